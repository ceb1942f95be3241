package cli

import (
	"fmt"
	"net/url"
	"strings"
)

func validateRemoteURL(remote string) error {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return fmt.Errorf("invalid remote %q: remote URL cannot be empty", remote)
	}

	u, err := url.Parse(remote)
	if err != nil {
		return fmt.Errorf("invalid remote %q: %w", remote, err)
	}
	if u.Scheme != "grpc" && u.Scheme != "grpcs" {
		return fmt.Errorf("invalid remote %q: scheme must be grpc or grpcs", remote)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid remote %q: missing host", remote)
	}
	if u.Path != "" && u.Path != "/" {
		return fmt.Errorf("invalid remote %q: remote must not include a path", remote)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("invalid remote %q: remote must not include query or fragment", remote)
	}
	return nil
}
