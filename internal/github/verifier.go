package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mpak-dev/mpak-registry/internal/log"
)

// claimFileName is the well-known file a repository publishes to attest
// ownership of a package name.
const claimFileName = "mpak.json"

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ErrInvalidRepo means the repo reference is not owner/repo or a
// recognizable GitHub URL.
var ErrInvalidRepo = errors.New("invalid github repository reference")

// NormalizeRepo reduces a repo reference to owner/repo form. Accepts
// owner/repo, https://github.com/owner/repo, and trailing .git.
func NormalizeRepo(ref string) (string, error) {
	s := strings.TrimSpace(ref)
	s = strings.TrimPrefix(s, "git+")
	for _, prefix := range []string{"https://github.com/", "http://github.com/", "github.com/"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	s = strings.TrimSuffix(s, ".git")
	s = strings.TrimSuffix(s, "/")
	if !repoPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepo, ref)
	}
	return s, nil
}

// claimFile is the parsed shape of mpak.json.
type claimFile struct {
	Name        string   `json:"name"`
	Maintainers []string `json:"maintainers"`
}

// Verification is the outcome of an ownership check. Verified is false
// with a human-readable Reason for every failure mode, including fetch
// errors; verification never escalates "not found" into an error.
type Verification struct {
	Verified bool
	Reason   string
	FileURL  string // where the claim file was looked for
}

// OwnershipVerifier checks that a repository attests ownership of a
// package name for a GitHub user, via the repo's claim file.
type OwnershipVerifier struct {
	client *Client
}

func NewOwnershipVerifier(client *Client) *OwnershipVerifier {
	return &OwnershipVerifier{client: client}
}

// Verify fetches mpak.json from the repo's default branch and succeeds
// iff its name equals packageName and its maintainers contain username.
func (v *OwnershipVerifier) Verify(ctx context.Context, packageName, repo, username string) *Verification {
	fileURL := fmt.Sprintf("%s/%s/HEAD/%s", v.client.rawBase, repo, claimFileName)
	result := &Verification{FileURL: fileURL}

	body, err := v.client.get(ctx, fileURL, false)
	switch {
	case errors.Is(err, ErrNotFound):
		result.Reason = fmt.Sprintf("%s not found in repository %s", claimFileName, repo)
		return result
	case err != nil:
		log.Warn(log.CatGitHub, "Ownership verification fetch failed", "repo", repo, "error", err.Error())
		result.Reason = fmt.Sprintf("could not fetch %s from %s: %v", claimFileName, repo, err)
		return result
	}

	var file claimFile
	if err := json.Unmarshal(body, &file); err != nil {
		result.Reason = fmt.Sprintf("%s in %s is not valid JSON", claimFileName, repo)
		return result
	}
	if file.Name != packageName {
		result.Reason = fmt.Sprintf("%s declares name %q, expected %q", claimFileName, file.Name, packageName)
		return result
	}
	for _, m := range file.Maintainers {
		if m == username {
			result.Verified = true
			return result
		}
	}
	result.Reason = fmt.Sprintf("%q is not listed in the maintainers of %s", username, claimFileName)
	return result
}
