package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/steveyegge/backport/internal/ledger"
	"github.com/steveyegge/backport/internal/release"
	"github.com/steveyegge/backport/internal/types"
)

// Settings is the typed view of the configuration a run needs.
type Settings struct {
	Release         string `mapstructure:"release"`
	DefaultUser     string `mapstructure:"default_user"`
	CheckIncomplete bool   `mapstructure:"check_incomplete"`
	SkipBuildTest   bool   `mapstructure:"skip_build_test"`
	DryRun          bool   `mapstructure:"dry_run"`
	StateDir        string `mapstructure:"state_dir"`

	Repo       RepoSettings    `mapstructure:"repo"`
	Upstream   TrackerSettings `mapstructure:"upstream"`
	Downstream TrackerSettings `mapstructure:"downstream"`
	Policy     PolicySettings  `mapstructure:"policy"`
	Labels     LabelSettings   `mapstructure:"labels"`
	Build      BuildSettings   `mapstructure:"build"`
	Ledger     LedgerSettings  `mapstructure:"ledger"`
	Retry      RetrySettings   `mapstructure:"retry"`

	// Parsed by Validate.
	ReleaseVersion            release.Version        `mapstructure:"-"`
	CustomerPriorityThreshold types.CustomerPriority `mapstructure:"-"`
	SecurityImpactThreshold   types.SecurityImpact   `mapstructure:"-"`
}

// RepoSettings locate the working tree and the refs compared in a run.
type RepoSettings struct {
	Dir            string `mapstructure:"dir"`
	URL            string `mapstructure:"url"` // cloned into Dir when Dir is not a repository
	UpstreamRef    string `mapstructure:"upstream_ref"`
	DownstreamRef  string `mapstructure:"downstream_ref"`
	PushRemote     string `mapstructure:"push_remote"` // empty disables pushing
	PushRef        string `mapstructure:"push_ref"`
	CommitterName  string `mapstructure:"committer_name"`
	CommitterEmail string `mapstructure:"committer_email"`
}

// TrackerSettings are the engine-facing settings of one tracker. The tracker
// plugin reads its connection settings (url, token, fields...) itself.
type TrackerSettings struct {
	Tracker       string `mapstructure:"tracker"`
	Project       string `mapstructure:"project"`
	Query         string `mapstructure:"query"`     // bulk-load query run before processing
	LinkBase      string `mapstructure:"link_base"` // prefix turning an issue key into a URL
	ReadyState    string `mapstructure:"ready_state"`
	CloneLinkType string `mapstructure:"clone_link_type"`
}

// PolicySettings decide which issues require a backport.
type PolicySettings struct {
	CustomerPriorityThreshold string   `mapstructure:"customer_priority_threshold"`
	SecurityImpactThreshold   string   `mapstructure:"security_impact_threshold"`
	ConfirmedUpstreamIssues   []string `mapstructure:"confirmed_upstream_issues"`
	ExcludedUpstreamIssues    []string `mapstructure:"excluded_upstream_issues"`
	ConfirmedDownstreamIssues []string `mapstructure:"confirmed_downstream_issues"`
	ExcludedDownstreamIssues  []string `mapstructure:"excluded_downstream_issues"`
}

// LabelSettings name the labels and markers the engine looks for.
type LabelSettings struct {
	NoBackportNeeded string `mapstructure:"no_backport_needed"`
	Tested           string `mapstructure:"tested"`
	NoTestingNeeded  string `mapstructure:"no_testing_needed"`
	NoTrackingMarker string `mapstructure:"no_tracking_marker"`
}

// BuildSettings configure validation of cherry-picks.
type BuildSettings struct {
	Command     string `mapstructure:"command"`
	TestCommand string `mapstructure:"test_command"`
	TestPattern string `mapstructure:"test_pattern"`
}

// LedgerSettings locate the run state files. Empty paths resolve inside
// StateDir.
type LedgerSettings struct {
	Commits     string        `mapstructure:"commits"`
	Confirmed   string        `mapstructure:"confirmed"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// RetrySettings bound retries of idempotent tracker writes.
type RetrySettings struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
}

// Load decodes the current configuration into Settings and validates it.
func Load() (*Settings, error) {
	if v == nil {
		return nil, errors.New("config not initialized")
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadPaths decodes the current configuration without validating the run
// settings. Commands that only read or write the ledger files use it.
func LoadPaths() (*Settings, error) {
	if v == nil {
		return nil, errors.New("config not initialized")
	}
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	s.ResolvePaths()
	return &s, nil
}

// Validate parses the release and thresholds and resolves ledger paths.
// A malformed release is fatal for a run.
func (s *Settings) Validate() error {
	if s.Release == "" {
		return errors.New("release not configured (set release in the config file, export BP_RELEASE or pass --release)")
	}
	var err error
	if s.ReleaseVersion, err = release.Parse(s.Release); err != nil {
		return fmt.Errorf("release: %w", err)
	}
	if s.CustomerPriorityThreshold, err = types.ParseCustomerPriority(s.Policy.CustomerPriorityThreshold); err != nil {
		return fmt.Errorf("policy.customer_priority_threshold: %w", err)
	}
	if s.SecurityImpactThreshold, err = types.ParseSecurityImpact(s.Policy.SecurityImpactThreshold); err != nil {
		return fmt.Errorf("policy.security_impact_threshold: %w", err)
	}
	if s.Upstream.Tracker == "" || s.Downstream.Tracker == "" {
		return errors.New("upstream.tracker and downstream.tracker must be set")
	}
	s.ResolvePaths()
	return nil
}

// ResolvePaths fills empty ledger paths from StateDir.
func (s *Settings) ResolvePaths() {
	if s.StateDir == "" {
		s.StateDir = DirName
	}
	if s.Ledger.Commits == "" {
		s.Ledger.Commits = filepath.Join(s.StateDir, ledger.DefaultCommitsFile)
	}
	if s.Ledger.Confirmed == "" {
		s.Ledger.Confirmed = filepath.Join(s.StateDir, ledger.DefaultConfirmedFile)
	}
}
