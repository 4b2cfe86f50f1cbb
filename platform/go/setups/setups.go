package setups

import (
	"os"
	"strings"
)

const (
	DevCredentialsPathEnv = "FIREBASE_CONFIG"
	DevProjectEnv         = "GCLOUD_PROJECT"
)

// FirebaseCredentialsPath returns the service account file named by FIREBASE_CONFIG, or nil
// to fall back to application default credentials.
func FirebaseCredentialsPath() *string {
	path, found := os.LookupEnv(DevCredentialsPathEnv)
	if !found || strings.TrimSpace(path) == "" {
		return nil
	}
	return &path
}

// ProjectID returns GCLOUD_PROJECT or def when unset.
func ProjectID(def string) string {
	if v := strings.TrimSpace(os.Getenv(DevProjectEnv)); v != "" {
		return v
	}
	return def
}
