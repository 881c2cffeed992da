package builder

import (
	"context"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Cloner checks a repository out into dest. Branch may be empty for the
// remote's default branch.
type Cloner interface {
	Clone(ctx context.Context, repositoryURL, branch, dest string, progress io.Writer) error
}

type GitCloner struct{}

func NewGitCloner() *GitCloner {
	return &GitCloner{}
}

func (GitCloner) Clone(ctx context.Context, repositoryURL, branch, dest string, progress io.Writer) error {
	opts := &git.CloneOptions{
		URL:      repositoryURL,
		Depth:    1,
		Progress: progress,
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, dest, false, opts); err != nil {
		return fmt.Errorf("git clone %s: %w", repositoryURL, err)
	}
	return nil
}
