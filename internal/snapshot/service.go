package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Content is the shape committed to a decision's archive repo on every
// publish. Approval state is deliberately absent: a snapshot captures what
// the client was asked to approve, not what happened to it afterwards.
type Content struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Phase       string          `json:"phase"`
	CostImpact  float64         `json:"costImpact"`
	Options     []OptionContent `json:"options"`
}

type OptionContent struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	ImageKey    string  `json:"imageKey,omitempty"`
	CostDelta   float64 `json:"costDelta"`
	Recommended bool    `json:"recommended"`
}

// Service keeps one bare-ish git repo per decision under baseDir. Published
// versions are commits tagged v1, v2, ... so a snapshot ref never moves.
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

func (s *Service) EnsureDecisionRepo(decisionID string, initial Content, author string) error {
	lock := s.decisionLock(decisionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(decisionID)
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

	hash, err := commitContentFile(repo, path, initial, author, "Open decision record")
	if err != nil {
		return err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitVersion records the published content as a new commit on main, tags
// it v<version>, and returns the full commit hash for use as the snapshot
// ref. The tag is a convenience alias; the hash is the durable reference.
func (s *Service) CommitVersion(decisionID string, content Content, author string, version int) (string, error) {
	lock := s.decisionLock(decisionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(decisionID)
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}

	message := fmt.Sprintf("Publish version %d", version)
	hash, err := commitContentFile(repo, path, content, author, message)
	if err != nil {
		return "", err
	}

	tagName := fmt.Sprintf("v%d", version)
	_, err = repo.CreateTag(tagName, hash, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "Choose & Build",
			Email: "archive@localhost",
			When:  time.Now(),
		},
		Message: tagName,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return "", fmt.Errorf("tag version: %w", err)
	}
	return hash.String(), nil
}

// ContentAt reads the snapshot at a ref, which may be a commit hash or a
// version tag like "v3".
func (s *Service) ContentAt(decisionID, ref string) (Content, error) {
	lock := s.decisionLock(decisionID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(decisionID))
	if err != nil {
		return Content{}, fmt.Errorf("open repo: %w", err)
	}

	hash, err := resolveRef(repo, ref)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Content{}, fmt.Errorf("read commit %s: %w", ref, err)
	}
	return readContentFromCommit(commitObj)
}

func (s *Service) repoPath(decisionID string) string {
	return filepath.Join(s.baseDir, decisionID)
}

func (s *Service) decisionLock(decisionID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[decisionID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[decisionID] = lock
	return lock
}

func commitContentFile(repo *git.Repository, path string, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "decision.json"), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write decision.json: %w", err)
	}
	if _, err := worktree.Add("decision.json"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.chooseandbuild.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File("decision.json")
	if err != nil {
		return Content{}, fmt.Errorf("load decision.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(raw, &content); err != nil {
		return Content{}, fmt.Errorf("decode snapshot content: %w", err)
	}
	return content, nil
}

func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if len(ref) == 40 {
		return plumbing.NewHash(ref), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve snapshot ref %s: %w", ref, err)
	}
	return *resolved, nil
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
