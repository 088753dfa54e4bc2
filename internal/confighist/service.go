// Package confighist keeps a git-backed history of every processor's
// playbook configuration.
package confighist

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"encoding/json"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"validai/api/internal/store"
)

// CommitInfo describes one entry in a processor's history.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service manages one bare-bones git repository per processor, with the
// playbook serialized to playbook.json on the main branch.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureProcessorRepo initializes the repository with a baseline commit.
// It is a no-op when the repository already exists.
func (s *Service) EnsureProcessorRepo(processorID string, initial store.PlaybookConfig, author string) error {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(processorID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(initial, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal initial playbook: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "playbook.json"), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write initial playbook: %w", err)
	}
	if _, err := worktree.Add("playbook.json"); err != nil {
		return fmt.Errorf("git add initial playbook: %w", err)
	}
	hash, err := worktree.Commit("Import playbook baseline", &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.validai.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("commit initial playbook: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitPlaybook records the playbook state as a new commit on main.
func (s *Service) CommitPlaybook(processorID string, config store.PlaybookConfig, author, message string) (CommitInfo, error) {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processorID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := s.commit(repo, config, author, message)
	if err != nil {
		return CommitInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}

	return toCommitInfo(commitObj), nil
}

// GetHeadPlaybook returns the playbook at the tip of main.
func (s *Service) GetHeadPlaybook(processorID string) (store.PlaybookConfig, CommitInfo, error) {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processorID))
	if err != nil {
		return store.PlaybookConfig{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return store.PlaybookConfig{}, CommitInfo{}, fmt.Errorf("resolve main: %w", err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return store.PlaybookConfig{}, CommitInfo{}, fmt.Errorf("load commit object: %w", err)
	}

	config, err := readPlaybookFromCommit(commitObj)
	if err != nil {
		return store.PlaybookConfig{}, CommitInfo{}, err
	}

	return config, toCommitInfo(commitObj), nil
}

// GetPlaybookByHash returns the playbook at a specific commit or tag.
func (s *Service) GetPlaybookByHash(processorID, hash string) (store.PlaybookConfig, error) {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processorID))
	if err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return store.PlaybookConfig{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readPlaybookFromCommit(commitObj)
}

// History lists the most recent commits on main, newest first.
func (s *Service) History(processorID string, limit int) ([]CommitInfo, error) {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processorID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// TagVersion tags the tip of main with a published version name, e.g. "v3".
func (s *Service) TagVersion(processorID, name string) error {
	lock := s.processorLock(processorID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(processorID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return fmt.Errorf("resolve main: %w", err)
	}

	_, err = repo.CreateTag(name, ref.Hash(), &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "ValidAI",
			Email: "validai@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (s *Service) repoPath(processorID string) string {
	return filepath.Join(s.baseDir, processorID)
}

func (s *Service) processorLock(processorID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[processorID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[processorID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, config store.PlaybookConfig, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName("main"), Force: true}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("checkout main: %w", err)
	}

	payload, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal playbook: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "playbook.json"), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write playbook.json: %w", err)
	}

	if _, err := worktree.Add("playbook.json"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add playbook: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.validai.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit playbook: %w", err)
	}
	return hash, nil
}

func readPlaybookFromCommit(commitObj *object.Commit) (store.PlaybookConfig, error) {
	file, err := commitObj.File("playbook.json")
	if err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("load playbook.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("open playbook reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("read playbook bytes: %w", err)
	}

	var config store.PlaybookConfig
	if err := json.Unmarshal(raw, &config); err != nil {
		return store.PlaybookConfig{}, fmt.Errorf("decode commit playbook: %w", err)
	}
	return config, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
