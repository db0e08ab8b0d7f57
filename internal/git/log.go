package git

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Commit is a commit read from git history.
type Commit struct {
	ID           string
	Parents      []string
	Author       Identity
	Committer    Identity
	AuthorTime   time.Time
	CommitTime   time.Time
	ShortMessage string
	FullMessage  string
}

// IsMerge reports whether the commit has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// ShortID returns the abbreviated commit id.
func (c Commit) ShortID() string {
	if len(c.ID) > 12 {
		return c.ID[:12]
	}
	return c.ID
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "--format=%H%x1f%P%x1f%an%x1f%ae%x1f%aI%x1f%cn%x1f%ce%x1f%cI%x1f%B%x1e"
)

// Log returns the commits in revRange (e.g. "downstream..upstream") ordered
// oldest to newest.
func (r *Repo) Log(ctx context.Context, revRange string) ([]Commit, error) {
	out, err := r.rawOutput(ctx, "log", "--reverse", logFormat, revRange, "--")
	if err != nil {
		return nil, err
	}
	return parseLog(out)
}

// ResolveCommit returns the commit identified by id (any revision git accepts).
func (r *Repo) ResolveCommit(ctx context.Context, id string) (Commit, error) {
	out, err := r.rawOutput(ctx, "log", "-1", logFormat, id, "--")
	if err != nil {
		return Commit{}, err
	}
	commits, err := parseLog(out)
	if err != nil {
		return Commit{}, err
	}
	if len(commits) != 1 {
		return Commit{}, fmt.Errorf("commit %s not found", id)
	}
	return commits[0], nil
}

// rawOutput is output without trimming, so the message bodies survive intact.
func (r *Repo) rawOutput(ctx context.Context, args ...string) (string, error) {
	cmd := r.command(ctx, nil, args...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}

func parseLog(out string) ([]Commit, error) {
	var commits []Commit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimLeft(record, "\n")
		if strings.TrimSpace(record) == "" {
			continue
		}
		c, err := parseRecord(record)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func parseRecord(record string) (Commit, error) {
	fields := strings.SplitN(record, fieldSep, 9)
	if len(fields) != 9 {
		return Commit{}, fmt.Errorf("malformed git log record: %q", record)
	}
	authorTime, err := time.Parse(time.RFC3339, fields[4])
	if err != nil {
		return Commit{}, fmt.Errorf("parse author time of %s: %w", fields[0], err)
	}
	commitTime, err := time.Parse(time.RFC3339, fields[7])
	if err != nil {
		return Commit{}, fmt.Errorf("parse commit time of %s: %w", fields[0], err)
	}
	message := strings.TrimRight(fields[8], "\n")
	short, _, _ := strings.Cut(message, "\n")
	return Commit{
		ID:           fields[0],
		Parents:      strings.Fields(fields[1]),
		Author:       Identity{Name: fields[2], Email: fields[3]},
		AuthorTime:   authorTime,
		Committer:    Identity{Name: fields[5], Email: fields[6]},
		CommitTime:   commitTime,
		ShortMessage: strings.TrimSpace(short),
		FullMessage:  message,
	}, nil
}
