/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package config

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv   string
	TZ       string
	HTTPAddr string

	DBDSN       string
	CollectorID string

	JiraBaseURL       string
	JiraPAT           string
	JiraUsername      string
	JiraPassword      string
	JiraAPIVersion    string
	JiraTimeZone      *time.Location
	JiraIssueTypes    []string
	JiraPageSize      int
	JiraStoryPoints   string
	JiraSprintField   string
	JiraKeywordFields []string
	JiraFieldsFile    string
	JiraFieldMap      map[string]string // name -> id
	JiraStatusMap     map[string]string // jira status name -> mirror status

	MirrorURL      string
	MirrorUsername string
	MirrorPassword string

	SinkBackend       string
	CheckpointBackend string
	SprintSampleDays  int
	SprintSampleLimit int

	SyncCron    string
	HTTPTimeout time.Duration
	RunTimeout  time.Duration

	TelegramToken   string
	TelegramChatIDs []int64

	OTelEnabled  bool
	OTelStdout   bool
	OTelEndpoint string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoi(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func parseInt64s(csv string) []int64 {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

func parseStrings(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parseStatusMap reads "Mirror=Jira A|Jira B;Mirror2=..." pairs.
func parseStatusMap(raw string) map[string]string {
	out := map[string]string{}
	for _, group := range strings.Split(raw, ";") {
		target, names, ok := strings.Cut(group, "=")
		if !ok {
			continue
		}
		target = strings.TrimSpace(target)
		for _, n := range strings.Split(names, "|") {
			n = strings.TrimSpace(n)
			if n != "" && target != "" {
				out[strings.ToLower(n)] = target
			}
		}
	}
	return out
}

const defaultStatusMap = "BACKLOG=Backlog|Open|To Do|Reopened;" +
	"IN_PROGRESS=In Progress|In Review|Testing;" +
	"IMPEDED=Blocked|Impeded;" +
	"WAITING=Waiting|On Hold;" +
	"DONE=Done|Closed|Resolved"

func Load() Config {
	cfg := Config{
		AppEnv:   getenv("APP_ENV", "dev"),
		TZ:       getenv("APP_TZ", "UTC"),
		HTTPAddr: getenv("HTTP_ADDR", ":8080"),

		DBDSN:       getenv("DB_DSN", ""),
		CollectorID: getenv("COLLECTOR_ID", "mirrorgate-jira-stories-collector"),

		JiraBaseURL:       getenv("JIRA_BASE_URL", ""),
		JiraPAT:           getenv("JIRA_PAT", ""),
		JiraUsername:      getenv("JIRA_USERNAME", ""),
		JiraPassword:      getenv("JIRA_PASSWORD", ""),
		JiraAPIVersion:    getenv("JIRA_API_VERSION", "2"),
		JiraIssueTypes:    parseStrings(getenv("JIRA_ISSUE_TYPES", "Epic,Feature,Story,Bug,Task")),
		JiraPageSize:      atoi("JIRA_PAGE_SIZE", 10),
		JiraStoryPoints:   getenv("JIRA_FIELD_STORY_POINTS", "customfield_10002"),
		JiraSprintField:   getenv("JIRA_FIELD_SPRINT", "customfield_10007"),
		JiraKeywordFields: parseStrings(getenv("JIRA_KEYWORD_FIELDS", "")),
		JiraFieldsFile:    getenv("JIRA_FIELDS_FILE", "/config/jira_fields.json"),
		JiraStatusMap:     parseStatusMap(getenv("JIRA_STATUS_MAP", defaultStatusMap)),

		MirrorURL:      strings.TrimRight(getenv("MIRROR_URL", "http://localhost:8080/mirrorgate"), "/"),
		MirrorUsername: getenv("MIRROR_USERNAME", ""),
		MirrorPassword: getenv("MIRROR_PASSWORD", ""),

		SinkBackend:       strings.ToLower(getenv("SINK_BACKEND", BackendHTTP)),
		CheckpointBackend: strings.ToLower(getenv("CHECKPOINT_BACKEND", BackendHTTP)),
		SprintSampleDays:  atoi("SPRINT_SAMPLE_DAYS", 14),
		SprintSampleLimit: atoi("SPRINT_SAMPLE_LIMIT", 20),

		SyncCron:    getenv("SYNC_CRON", "*/5 * * * *"),
		HTTPTimeout: dur("HTTP_TIMEOUT", 30*time.Second),
		RunTimeout:  dur("RUN_TIMEOUT", 30*time.Minute),

		TelegramToken:   getenv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatIDs: parseInt64s(getenv("TELEGRAM_CHAT_IDS", "")),

		OTelEnabled:  boolean("OTEL_ENABLED", false),
		OTelStdout:   boolean("OTEL_STDOUT", false),
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if cfg.JiraPageSize <= 0 {
		cfg.JiraPageSize = 10
	}

	// set global timezone if available
	if loc, err := time.LoadLocation(cfg.TZ); err == nil {
		time.Local = loc
	} else {
		log.Printf("warning: cannot load TZ %s: %v", cfg.TZ, err)
	}

	cfg.JiraTimeZone = time.Local
	if tz := getenv("JIRA_TIMEZONE", ""); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			cfg.JiraTimeZone = loc
		} else {
			log.Printf("warning: cannot load JIRA_TIMEZONE %s: %v", tz, err)
		}
	}

	// Optional: load Jira custom fields mapping from file (name->id)
	if m := loadFieldMap(cfg.JiraFieldsFile); len(m) > 0 {
		cfg.JiraFieldMap = m
	} else if m := loadFieldMap("config/jira_fields.json"); len(m) > 0 {
		cfg.JiraFieldMap = m
	}
	if id, ok := cfg.JiraFieldMap["Story Points"]; ok && os.Getenv("JIRA_FIELD_STORY_POINTS") == "" {
		cfg.JiraStoryPoints = id
	}
	if id, ok := cfg.JiraFieldMap["Sprint"]; ok && os.Getenv("JIRA_FIELD_SPRINT") == "" {
		cfg.JiraSprintField = id
	}
	return cfg
}

func loadFieldMap(path string) map[string]string {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	type fieldDef struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	var arr []fieldDef
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil
	}
	m := map[string]string{}
	for _, f := range arr {
		n := strings.TrimSpace(f.Name)
		if n != "" && f.ID != "" {
			m[n] = f.ID
		}
	}
	return m
}

// Validate reports the settings a full run cannot do without.
func (c Config) Validate() error {
	var errs []error
	if c.JiraBaseURL == "" {
		errs = append(errs, errors.New("JIRA_BASE_URL is required"))
	}
	if len(c.JiraIssueTypes) == 0 {
		errs = append(errs, errors.New("JIRA_ISSUE_TYPES must name at least one type"))
	}
	for _, b := range []struct{ key, val string }{
		{"SINK_BACKEND", c.SinkBackend},
		{"CHECKPOINT_BACKEND", c.CheckpointBackend},
	} {
		switch b.val {
		case BackendHTTP:
			if c.MirrorURL == "" {
				errs = append(errs, errors.New(b.key+"=http requires MIRROR_URL"))
			}
		case BackendPostgres:
			if c.DBDSN == "" {
				errs = append(errs, errors.New(b.key+"=postgres requires DB_DSN"))
			}
		default:
			errs = append(errs, errors.New(b.key+" must be http or postgres"))
		}
	}
	return errors.Join(errs...)
}
