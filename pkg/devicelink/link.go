package devicelink

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/oarkflow/anchor/pkg/models"
)

const fragmentPrefix = "device="

var ErrInvalidLink = errors.New("invalid device link")

// BuildLink returns the URL an existing device opens to add the new one:
// <base>/#device=<anchor>;<hex DER public key>;<hex raw credential id>.
func BuildLink(base string, anchor models.AnchorNumber, cred models.Credential) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	u.Path = "/"
	u.RawQuery = ""
	u.Fragment = Fragment(anchor, cred)
	return u.String(), nil
}

func Fragment(anchor models.AnchorNumber, cred models.Credential) string {
	return fmt.Sprintf("%s%d;%s;%s", fragmentPrefix, anchor, hex.EncodeToString(cred.PubKey), hex.EncodeToString(cred.RawID))
}

// ParseFragment reverses Fragment. The leading "#" and "device=" are optional.
func ParseFragment(fragment string) (models.AnchorNumber, models.Credential, error) {
	fragment = strings.TrimPrefix(fragment, "#")
	if unescaped, err := url.PathUnescape(fragment); err == nil {
		fragment = unescaped
	}
	fragment = strings.TrimPrefix(fragment, fragmentPrefix)
	parts := strings.Split(fragment, ";")
	if len(parts) != 3 {
		return 0, models.Credential{}, ErrInvalidLink
	}
	anchor, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, models.Credential{}, fmt.Errorf("%w: anchor: %w", ErrInvalidLink, err)
	}
	pubKey, err := hex.DecodeString(parts[1])
	if err != nil || len(pubKey) == 0 {
		return 0, models.Credential{}, fmt.Errorf("%w: public key", ErrInvalidLink)
	}
	rawID, err := hex.DecodeString(parts[2])
	if err != nil {
		return 0, models.Credential{}, fmt.Errorf("%w: credential id", ErrInvalidLink)
	}
	return anchor, models.Credential{PubKey: pubKey, RawID: rawID}, nil
}

// QRCode renders link as a PNG image.
func QRCode(link string) ([]byte, error) {
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return png, nil
}

func QRCodeDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
