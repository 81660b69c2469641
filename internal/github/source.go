// Package github resolves GitHub repository URLs to downloadable archives.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/rs/zerolog"

	perrors "github.com/novuscode/novuscode-api/internal/errors"
	"github.com/novuscode/novuscode-api/internal/fetch"
)

// Repo identifies a repository and an optional ref.
type Repo struct {
	Owner string
	Name  string
	Ref   string
}

// ParseRepoURL recognizes repository page URLs of the form
// https://github.com/{owner}/{repo}[.git][/tree/{ref}]. Other URLs (archive
// links, codeload, raw content) are not repository pages.
func ParseRepoURL(raw string) (Repo, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Repo{}, false
	}
	host := strings.ToLower(u.Host)
	if host != "github.com" && host != "www.github.com" {
		return Repo{}, false
	}

	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 || segs[0] == "" || segs[1] == "" {
		return Repo{}, false
	}
	r := Repo{Owner: segs[0], Name: strings.TrimSuffix(segs[1], ".git")}

	switch {
	case len(segs) == 2:
		return r, true
	case len(segs) >= 4 && segs[2] == "tree":
		r.Ref = strings.Join(segs[3:], "/")
		return r, true
	default:
		return Repo{}, false
	}
}

// Resolver downloads GitHub sources. Repository page URLs are resolved to a
// zipball link through the REST API; every other URL is downloaded as-is.
type Resolver struct {
	client *gogithub.Client
	dl     *fetch.Downloader
	logger zerolog.Logger
}

// NewResolver creates a Resolver. token and apiURL are optional.
func NewResolver(dl *fetch.Downloader, token, apiURL string, logger zerolog.Logger) (*Resolver, error) {
	client := gogithub.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if apiURL != "" {
		base, err := url.Parse(strings.TrimRight(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing GitHub API URL: %w", err)
		}
		client.BaseURL = base
	}
	return &Resolver{
		client: client,
		dl:     dl,
		logger: logger.With().Str("component", "github").Logger(),
	}, nil
}

// Download fetches the archive bytes behind rawURL.
func (r *Resolver) Download(ctx context.Context, rawURL string) (*fetch.Result, error) {
	repo, ok := ParseRepoURL(rawURL)
	if !ok {
		return r.dl.Get(ctx, rawURL)
	}

	link, err := r.ArchiveLink(ctx, repo)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().
		Str("owner", repo.Owner).
		Str("repo", repo.Name).
		Str("ref", repo.Ref).
		Msg("resolved repository archive")
	return r.dl.Get(ctx, link)
}

// ArchiveLink returns the zipball download URL of repo.
func (r *Resolver) ArchiveLink(ctx context.Context, repo Repo) (string, error) {
	const op = "github.ArchiveLink"

	var opts *gogithub.RepositoryContentGetOptions
	if repo.Ref != "" {
		opts = &gogithub.RepositoryContentGetOptions{Ref: repo.Ref}
	}
	link, resp, err := r.client.Repositories.GetArchiveLink(ctx, repo.Owner, repo.Name, gogithub.Zipball, opts, 0)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		apiErr := perrors.NewAPIError("github", status, err.Error())
		return "", perrors.E(perrors.KindUpstreamFetch, op,
			fmt.Sprintf("Could not resolve repository %s/%s.", repo.Owner, repo.Name), apiErr)
	}
	return link.String(), nil
}
