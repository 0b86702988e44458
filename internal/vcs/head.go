// Package vcs reads build labels from a local git checkout.
package vcs

import (
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Head describes the checked-out commit.
type Head struct {
	Commit string
	// Branch is empty on a detached HEAD.
	Branch string
	// Tag names a tag pointing at Commit, if any.
	Tag string
}

// BranchTag is the label imports record: the branch, else the tag.
func (h Head) BranchTag() string {
	if h.Branch != "" {
		return h.Branch
	}
	return h.Tag
}

// ReadHead opens the repository containing dir and resolves HEAD.
func ReadHead(dir string) (Head, error) {
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Head{}, fmt.Errorf("opening git repository at %s: %w", dir, err)
	}
	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Head{}, fmt.Errorf("repository at %s has no commits", dir)
		}
		return Head{}, fmt.Errorf("resolving HEAD: %w", err)
	}

	h := Head{Commit: ref.Hash().String()}
	if ref.Name().IsBranch() {
		h.Branch = ref.Name().Short()
	}

	tags, err := repo.Tags()
	if err != nil {
		return h, fmt.Errorf("listing tags: %w", err)
	}
	defer tags.Close()
	_ = tags.ForEach(func(t *plumbing.Reference) error {
		target := t.Hash()
		// Annotated tags point at a tag object.
		if obj, err := repo.TagObject(target); err == nil {
			target = obj.Target
		}
		if target == ref.Hash() {
			h.Tag = t.Name().Short()
			return errStop
		}
		return nil
	})
	return h, nil
}

var errStop = errors.New("stop")
