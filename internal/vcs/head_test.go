package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *gogit.Repository, dir string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "ci", Email: "ci@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestReadHeadOnBranch(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	commit := commitFile(t, repo, dir)

	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))

	h, err := ReadHead(sub)
	require.NoError(t, err)
	assert.Equal(t, commit, h.Commit)
	assert.Equal(t, "master", h.Branch)
	assert.Equal(t, "master", h.BranchTag())
}

func TestReadHeadFindsTag(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	commit := commitFile(t, repo, dir)

	head, err := repo.Head()
	require.NoError(t, err)
	_, err = repo.CreateTag("v1.0.0", head.Hash(), nil)
	require.NoError(t, err)

	h, err := ReadHead(dir)
	require.NoError(t, err)
	assert.Equal(t, commit, h.Commit)
	assert.Equal(t, "v1.0.0", h.Tag)
}

func TestReadHeadErrors(t *testing.T) {
	_, err := ReadHead(t.TempDir())
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = gogit.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = ReadHead(dir)
	assert.ErrorContains(t, err, "no commits")
}
