// Package snapshots archives every published manual version in a git
// repository per manual: one commit per publish, tagged v<version>, holding
// the structure snapshot and the rendered HTML.
package snapshots

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	structureFile = "structure.json"
	htmlFile      = "manual.html"
	branchName    = "main"
)

var ErrVersionNotArchived = errors.New("version not archived")

// Entry is one published version.
type Entry struct {
	Version     int
	Structure   json.RawMessage
	HTML        string
	ChangeNotes string
	Author      string
	PublishedAt time.Time
}

type Commit struct {
	Hash      string    `json:"hash"`
	Version   int       `json:"version"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Archive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Archive {
	return &Archive{baseDir: baseDir, locks: make(map[string]*sync.Mutex)}
}

func TagName(version int) string {
	return "v" + strconv.Itoa(version)
}

// Store commits the entry and tags it. Archiving a version that is already
// tagged is a no-op returning the existing commit.
func (a *Archive) Store(manualID string, entry Entry) (Commit, error) {
	lock := a.manualLock(manualID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := a.openOrInit(manualID)
	if err != nil {
		return Commit{}, err
	}
	if ref, err := repo.Tag(TagName(entry.Version)); err == nil {
		commitObj, err := tagCommit(repo, ref)
		if err != nil {
			return Commit{}, err
		}
		return toCommit(commitObj), nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}
	root := worktree.Filesystem.Root()

	structure := entry.Structure
	if len(structure) == 0 {
		structure = json.RawMessage(`{}`)
	}
	var pretty any
	if err := json.Unmarshal(structure, &pretty); err != nil {
		return Commit{}, fmt.Errorf("decode structure snapshot: %w", err)
	}
	payload, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("encode structure snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, structureFile), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", structureFile, err)
	}
	if err := os.WriteFile(filepath.Join(root, htmlFile), []byte(entry.HTML), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", htmlFile, err)
	}
	for _, name := range []string{structureFile, htmlFile} {
		if _, err := worktree.Add(name); err != nil {
			return Commit{}, fmt.Errorf("git add %s: %w", name, err)
		}
	}

	when := entry.PublishedAt
	if when.IsZero() {
		when = time.Now()
	}
	author := entry.Author
	if strings.TrimSpace(author) == "" {
		author = "manuals"
	}
	message := fmt.Sprintf("Publish version %d", entry.Version)
	if notes := strings.TrimSpace(entry.ChangeNotes); notes != "" {
		message += "\n\n" + notes
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: sanitizeEmail(author) + "@manuals.local",
			When:  when,
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit snapshot: %w", err)
	}

	_, err = repo.CreateTag(TagName(entry.Version), hash, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "manuals", Email: "manuals@manuals.local", When: when},
		Message: TagName(entry.Version),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return Commit{}, fmt.Errorf("create tag: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// Get loads the archived structure and HTML of one version.
func (a *Archive) Get(manualID string, version int) (Entry, error) {
	lock := a.manualLock(manualID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(manualID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return Entry{}, ErrVersionNotArchived
	}
	if err != nil {
		return Entry{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Tag(TagName(version))
	if errors.Is(err, git.ErrTagNotFound) {
		return Entry{}, ErrVersionNotArchived
	}
	if err != nil {
		return Entry{}, fmt.Errorf("resolve tag: %w", err)
	}
	commitObj, err := tagCommit(repo, ref)
	if err != nil {
		return Entry{}, err
	}

	structure, err := readFile(commitObj, structureFile)
	if err != nil {
		return Entry{}, err
	}
	html, err := readFile(commitObj, htmlFile)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Version:     version,
		Structure:   json.RawMessage(structure),
		HTML:        string(html),
		ChangeNotes: changeNotes(commitObj.Message),
		Author:      commitObj.Author.Name,
		PublishedAt: commitObj.Author.When,
	}, nil
}

// History lists archived publishes newest first.
func (a *Archive) History(manualID string, limit int) ([]Commit, error) {
	lock := a.manualLock(manualID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(a.repoPath(manualID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branchName), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := []Commit{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (a *Archive) repoPath(manualID string) string {
	return filepath.Join(a.baseDir, manualID)
}

func (a *Archive) manualLock(manualID string) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	lock, ok := a.locks[manualID]
	if !ok {
		lock = &sync.Mutex{}
		a.locks[manualID] = lock
	}
	return lock
}

func (a *Archive) openOrInit(manualID string) (*git.Repository, error) {
	path := a.repoPath(manualID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branchName)},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

// tagCommit peels annotated tags down to their commit.
func tagCommit(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commitObj, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("peel tag %s: %w", ref.Name().Short(), err)
		}
		return commitObj, nil
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read tagged commit: %w", err)
	}
	return commitObj, nil
}

func readFile(commitObj *object.Commit, name string) ([]byte, error) {
	file, err := commitObj.File(name)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func toCommit(commitObj *object.Commit) Commit {
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		Version:   versionFromMessage(commitObj.Message),
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func versionFromMessage(message string) int {
	first, _, _ := strings.Cut(message, "\n")
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(first), "Publish version "))
	if err != nil {
		return 0
	}
	return n
}

func changeNotes(message string) string {
	_, rest, _ := strings.Cut(message, "\n\n")
	return strings.TrimSpace(rest)
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		case r == ' ' || r == '-' || r == '_':
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
