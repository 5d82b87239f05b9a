package idgen

import "errors"

// Base62 alphabet: digits, lowercase, uppercase.
const base62Chars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// ErrInvalidBase62 is returned when decoding a string with characters
// outside the base62 alphabet.
var ErrInvalidBase62 = errors.New("invalid base62 string")

var base62Index [256]int16

func init() {
	for i := range base62Index {
		base62Index[i] = -1
	}
	for i := 0; i < len(base62Chars); i++ {
		base62Index[base62Chars[i]] = int16(i)
	}
}

// EncodeBase62 renders num in base62 using the shortest representation.
func EncodeBase62(num uint64) string {
	if num == 0 {
		return string(base62Chars[0])
	}
	buf := make([]byte, 0, 11) // 62^11 > 2^64
	for num > 0 {
		buf = append(buf, base62Chars[num%62])
		num /= 62
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}

// DecodeBase62 parses a base62 string back into a number.
func DecodeBase62(s string) (uint64, error) {
	if s == "" {
		return 0, ErrInvalidBase62
	}
	var num uint64
	for i := 0; i < len(s); i++ {
		v := base62Index[s[i]]
		if v < 0 {
			return 0, ErrInvalidBase62
		}
		num = num*62 + uint64(v)
	}
	return num, nil
}
