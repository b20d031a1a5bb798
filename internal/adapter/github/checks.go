package github

import (
	"context"
	"fmt"
	"time"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/Strob0t/ChangeGuard/internal/port/scm"
)

// Publisher implements scm.Publisher with GitHub check runs. The evaluation
// key is the check run external_id, so publishing a key twice updates the
// existing run.
type Publisher struct {
	client     *Client
	checkName  string
	detailsURL string
	now        func() time.Time
}

// NewPublisher creates a check run publisher. detailsURL may be empty.
func NewPublisher(c *Client, checkName, detailsURL string) *Publisher {
	return &Publisher{client: c, checkName: checkName, detailsURL: detailsURL, now: time.Now}
}

// Publish creates or updates the check run for pub.Key on pub.HeadSHA.
func (p *Publisher) Publish(ctx context.Context, ref scm.PullRef, pub *scm.Publication) error {
	gh, err := p.client.forInstallation(ref.InstallationID)
	if err != nil {
		return err
	}
	owner, repo := ref.PR.OwnerRepo()
	key := pub.Key.String()
	out := render(pub)
	completed := &gogithub.Timestamp{Time: p.now()}
	output := &gogithub.CheckRunOutput{
		Title:   gogithub.Ptr(out.Title),
		Summary: gogithub.Ptr(out.Summary),
		Text:    gogithub.Ptr(out.Text),
	}
	var details *string
	if p.detailsURL != "" {
		details = gogithub.Ptr(p.detailsURL + key)
	}

	existing, err := p.findByExternalID(ctx, gh, owner, repo, pub.HeadSHA, key)
	if err != nil {
		return err
	}

	if existing != nil {
		_, err := call(ctx, p.client, func(ctx context.Context) (*gogithub.CheckRun, *gogithub.Response, error) {
			return gh.Checks.UpdateCheckRun(ctx, owner, repo, existing.GetID(), gogithub.UpdateCheckRunOptions{
				Name:        p.checkName,
				DetailsURL:  details,
				ExternalID:  gogithub.Ptr(key),
				Status:      gogithub.Ptr("completed"),
				Conclusion:  gogithub.Ptr(out.Conclusion),
				CompletedAt: completed,
				Output:      output,
			})
		})
		if err != nil {
			return fmt.Errorf("update check run %d: %w", existing.GetID(), err)
		}
		return nil
	}

	_, err = call(ctx, p.client, func(ctx context.Context) (*gogithub.CheckRun, *gogithub.Response, error) {
		return gh.Checks.CreateCheckRun(ctx, owner, repo, gogithub.CreateCheckRunOptions{
			Name:        p.checkName,
			HeadSHA:     pub.HeadSHA,
			DetailsURL:  details,
			ExternalID:  gogithub.Ptr(key),
			Status:      gogithub.Ptr("completed"),
			Conclusion:  gogithub.Ptr(out.Conclusion),
			CompletedAt: completed,
			Output:      output,
		})
	})
	if err != nil {
		return fmt.Errorf("create check run: %w", err)
	}
	return nil
}

func (p *Publisher) findByExternalID(ctx context.Context, gh *gogithub.Client, owner, repo, sha, key string) (*gogithub.CheckRun, error) {
	opts := &gogithub.ListCheckRunsOptions{
		CheckName:   gogithub.Ptr(p.checkName),
		ListOptions: gogithub.ListOptions{PerPage: 100},
	}
	for {
		type page struct {
			runs []*gogithub.CheckRun
			next int
		}
		pg, err := call(ctx, p.client, func(ctx context.Context) (page, *gogithub.Response, error) {
			res, resp, err := gh.Checks.ListCheckRunsForRef(ctx, owner, repo, sha, opts)
			if err != nil {
				return page{}, resp, err
			}
			return page{runs: res.CheckRuns, next: resp.NextPage}, resp, nil
		})
		if err != nil {
			return nil, fmt.Errorf("list check runs for %s: %w", sha, err)
		}
		for _, cr := range pg.runs {
			if cr.GetExternalID() == key {
				return cr, nil
			}
		}
		if pg.next == 0 {
			return nil, nil
		}
		opts.Page = pg.next
	}
}
