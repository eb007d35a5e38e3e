package common

import (
	"encoding/hex"
	"fmt"
	"strings"
)

//EncodeToString returns the UPPERCASE string representation of hexBytes with
//the 0X prefix
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

//DecodeFromString converts a hex string, with or without the 0X prefix, to a
//byte slice
func DecodeFromString(hexString string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.ToUpper(hexString), "0X")
	return hex.DecodeString(trimmed)
}
