package user

import "strings"

const (
	DefaultPhotoURL = "/image/unnamed.png"

	googlePhotoHost = "googleusercontent.com"
	googlePhotoSize = "=s96-c"
)

// HighResPhotoURL rewrites Google profile photo URLs to their 96px variant; an empty URL gets the default avatar.
func HighResPhotoURL(url string) string {
	if url == "" {
		return DefaultPhotoURL
	}
	if strings.Contains(url, googlePhotoHost) {
		return strings.SplitN(url, "=", 2)[0] + googlePhotoSize
	}
	return url
}
