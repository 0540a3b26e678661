package session

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// renderQR turns a pairing code into a PNG data URL for the operator UI.
func renderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
