package github

import (
	"context"
	"fmt"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/Strob0t/ChangeGuard/internal/domain/snapshot"
	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

// EvidenceFetcher implements scm.EvidenceFetcher.
type EvidenceFetcher struct {
	client *Client
}

// NewEvidenceFetcher creates a fetcher on the given client.
func NewEvidenceFetcher(c *Client) *EvidenceFetcher {
	return &EvidenceFetcher{client: c}
}

// FetchEvidence reads the pull request, its complete file list in GitHub
// order and, when withDiff is set, the unified diff.
func (f *EvidenceFetcher) FetchEvidence(ctx context.Context, ref scm.PullRef, withDiff bool) (*scm.Evidence, error) {
	gh, err := f.client.forInstallation(ref.InstallationID)
	if err != nil {
		return nil, err
	}
	owner, repo := ref.PR.OwnerRepo()

	pr, err := call(ctx, f.client, func(ctx context.Context) (*gogithub.PullRequest, *gogithub.Response, error) {
		return gh.PullRequests.Get(ctx, owner, repo, ref.PR.Number)
	})
	if err != nil {
		return nil, fmt.Errorf("get pull request %s: %w", ref.PR, err)
	}

	files, err := f.listFiles(ctx, gh, owner, repo, ref.PR.Number)
	if err != nil {
		return nil, err
	}

	ev := &scm.Evidence{
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadSHA: pr.GetHead().GetSHA(),
		Files:   files,
	}

	if withDiff {
		raw, err := call(ctx, f.client, func(ctx context.Context) (string, *gogithub.Response, error) {
			return gh.PullRequests.GetRaw(ctx, owner, repo, ref.PR.Number, gogithub.RawOptions{Type: gogithub.Diff})
		})
		if err != nil {
			return nil, fmt.Errorf("get diff %s: %w", ref.PR, err)
		}
		ev.Diff = raw
	}
	return ev, nil
}

// CurrentState reads only the live head sha and body.
func (f *EvidenceFetcher) CurrentState(ctx context.Context, ref scm.PullRef) (*scm.Evidence, error) {
	gh, err := f.client.forInstallation(ref.InstallationID)
	if err != nil {
		return nil, err
	}
	owner, repo := ref.PR.OwnerRepo()

	pr, err := call(ctx, f.client, func(ctx context.Context) (*gogithub.PullRequest, *gogithub.Response, error) {
		return gh.PullRequests.Get(ctx, owner, repo, ref.PR.Number)
	})
	if err != nil {
		return nil, fmt.Errorf("get pull request %s: %w", ref.PR, err)
	}
	return &scm.Evidence{
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadSHA: pr.GetHead().GetSHA(),
	}, nil
}

func (f *EvidenceFetcher) listFiles(ctx context.Context, gh *gogithub.Client, owner, repo string, number int) ([]snapshot.ChangedFile, error) {
	files := []snapshot.ChangedFile{}
	opts := &gogithub.ListOptions{PerPage: 100}

	for {
		type page struct {
			files []*gogithub.CommitFile
			next  int
		}
		p, err := call(ctx, f.client, func(ctx context.Context) (page, *gogithub.Response, error) {
			fs, resp, err := gh.PullRequests.ListFiles(ctx, owner, repo, number, opts)
			if err != nil {
				return page{}, resp, err
			}
			return page{files: fs, next: resp.NextPage}, resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing PR files: %w", err)
		}

		for _, file := range p.files {
			files = append(files, snapshot.ChangedFile{
				Path:         file.GetFilename(),
				AddedLines:   file.GetAdditions(),
				RemovedLines: file.GetDeletions(),
				Status:       file.GetStatus(),
			})
		}

		if p.next == 0 {
			break
		}
		opts.Page = p.next
	}
	return files, nil
}
