package registry

import (
	"context"
	"fmt"
	"os"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"lakeloader/pkg/errors"
	"lakeloader/pkg/models"
)

// LoadDefsGit reads table definitions from a git repository at the given
// ref. The repository is cloned shallowly into a temporary directory that
// is removed before returning; definitions are the same YAML files
// LoadDefsDir reads.
func LoadDefsGit(ctx context.Context, url, ref string) ([]models.TableDef, error) {
	tmp, err := os.MkdirTemp("", "lakeloader-schema-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create temp directory for schema clone")
	}
	defer os.RemoveAll(tmp)

	opts := &git.CloneOptions{
		URL:          url,
		SingleBranch: true,
		Depth:        1,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}

	if _, err := git.PlainCloneContext(ctx, tmp, false, opts); err != nil {
		return nil, errors.ConfigError(
			fmt.Sprintf("failed to clone schema repository %s: %v", url, err), "schema_source.git_url")
	}

	return LoadDefsDir(tmp)
}
