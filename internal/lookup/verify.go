package lookup

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/couchcryptid/disaster-coordination-service/internal/domain"
)

const (
	reasonVerified     = "Image appears to show legitimate disaster context"
	reasonManualReview = "Image requires manual review"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".heic": true,
}

// verifyImage checks that imageURL is an absolute http(s) URL and marks it
// verified when its path names a known image format.
func verifyImage(imageURL string) (domain.Verification, error) {
	u, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.Verification{}, fmt.Errorf("%w: image_url must be an absolute http(s) URL", domain.ErrValidation)
	}
	if imageExtensions[strings.ToLower(path.Ext(u.Path))] {
		return domain.Verification{Verified: true, Reason: reasonVerified}, nil
	}
	return domain.Verification{Verified: false, Reason: reasonManualReview}, nil
}
