// Package github imports the open issues and pull requests of GitHub
// repositories.
package github

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/mschirtzinger/bugwarrior/internal/config"
	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// Service is the service name of this connector.
const Service = "github"

// Custom fields written by the connector.
const (
	FieldBody      = "githubbody"
	FieldClosedOn  = "githubclosedon"
	FieldCreatedOn = "githubcreatedon"
	FieldMilestone = "githubmilestone"
	FieldNamespace = "githubnamespace"
	FieldNumber    = "githubnumber"
	FieldRepo      = "githubrepo"
	FieldState     = "githubstate"
	FieldTitle     = "githubtitle"
	FieldType      = "githubtype"
	FieldUpdatedAt = "githubupdatedat"
	FieldURL       = "githuburl"
	FieldUser      = "githubuser"
)

// Schema is the UDA declaration of the connector.
var Schema = []uda.Field{
	{Key: FieldBody, Type: uda.TypeString, Label: "Github Body"},
	{Key: FieldClosedOn, Type: uda.TypeDate, Label: "GitHub Closed"},
	{Key: FieldCreatedOn, Type: uda.TypeDate, Label: "Github Created"},
	{Key: FieldMilestone, Type: uda.TypeString, Label: "Github Milestone"},
	{Key: FieldNamespace, Type: uda.TypeString, Label: "Github Namespace"},
	{Key: FieldNumber, Type: uda.TypeNumeric, Label: "Github Issue/PR #"},
	{Key: FieldRepo, Type: uda.TypeString, Label: "Github Repo Slug"},
	{Key: FieldState, Type: uda.TypeString, Label: "GitHub State"},
	{Key: FieldTitle, Type: uda.TypeString, Label: "Github Title"},
	{Key: FieldType, Type: uda.TypeString, Label: "Github Type"},
	{Key: FieldUpdatedAt, Type: uda.TypeDate, Label: "Github Updated"},
	{Key: FieldURL, Type: uda.TypeString, Label: "Github URL"},
	{Key: FieldUser, Type: uda.TypeString, Label: "Github User"},
}

// Definition returns the registry definition of the connector.
func Definition() service.Definition {
	return service.Definition{
		Service:        Service,
		IdentityFields: []string{FieldURL},
		Schema:         Schema,
		New:            New,
	}
}

// Connector fetches the open issues of the repositories of one target.
type Connector struct {
	target string
	client *client
	logger *log.Logger

	repos           []string
	includePRs      bool
	importLabels    bool
	defaultPriority string
	projectTemplate string
}

// New builds a connector from a target section.
//
// Options:
//
//	repos                  owner/name list (required)
//	token                  API token; falls back to $GITHUB_TOKEN
//	host                   github.com or a GitHub Enterprise host
//	api_url                explicit REST endpoint, overrides host
//	include_pull_requests  import pull requests too (default false)
//	import_labels_as_tags  copy labels into tags (default false)
//	default_priority       priority of new tasks (default M)
//	project_template       project name, {owner} and {repo} expand (default {repo})
func New(target string, opts config.TargetOptions, logger *log.Logger) (service.Connector, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[github] ", log.LstdFlags)
	}

	if err := opts.Require("repos"); err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	repos := opts.Strings("repos")
	for _, r := range repos {
		if _, _, ok := splitRepo(r); !ok {
			return nil, fmt.Errorf("target %s: repo %q must be owner/name: %w", target, r, config.ErrInvalid)
		}
	}

	includePRs, err := opts.Bool("include_pull_requests", false)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}
	importLabels, err := opts.Bool("import_labels_as_tags", false)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", target, err)
	}

	base := opts.String("api_url", "")
	if base == "" {
		base = apiURL(opts.String("host", "github.com"))
	}

	return &Connector{
		target:          target,
		client:          newClient(base, opts.String("token", os.Getenv("GITHUB_TOKEN"))),
		logger:          logger,
		repos:           repos,
		includePRs:      includePRs,
		importLabels:    importLabels,
		defaultPriority: opts.String("default_priority", "M"),
		projectTemplate: opts.String("project_template", "{repo}"),
	}, nil
}

// Target implements service.Connector.
func (c *Connector) Target() string { return c.target }

// Service implements service.Connector.
func (c *Connector) Service() string { return Service }

// Issues implements service.Connector. Repositories are fetched in the
// configured order; the first failing repository ends the fetch.
func (c *Connector) Issues(ctx context.Context, emit func(*issue.Issue) error) error {
	for _, slug := range c.repos {
		owner, name, _ := splitRepo(slug)
		skipped := 0

		err := c.client.listIssues(ctx, owner, name, func(page []apiIssue) error {
			for i := range page {
				if page[i].PullRequest != nil && !c.includePRs {
					skipped++
					continue
				}
				if err := emit(c.toIssue(owner, name, &page[i])); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to list issues of %s: %w", slug, err)
		}
		if skipped > 0 {
			c.logger.Printf("%s: skipped %d pull requests", slug, skipped)
		}
	}
	return nil
}

type apiUser struct {
	Login string `json:"login"`
}

type apiLabel struct {
	Name string `json:"name"`
}

type apiMilestone struct {
	Title string `json:"title"`
}

type apiIssue struct {
	Number      int           `json:"number"`
	Title       string        `json:"title"`
	Body        string        `json:"body"`
	State       string        `json:"state"`
	HTMLURL     string        `json:"html_url"`
	User        apiUser       `json:"user"`
	Labels      []apiLabel    `json:"labels"`
	Milestone   *apiMilestone `json:"milestone"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ClosedAt    *time.Time    `json:"closed_at"`
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request"`
}

func (c *Connector) toIssue(owner, repo string, src *apiIssue) *issue.Issue {
	kind, abbrev := "issue", "Is"
	if src.PullRequest != nil {
		kind, abbrev = "pull_request", "PR"
	}

	iss := issue.New(c.target, Service)
	f := iss.Fields

	f.Set(issue.FieldDescription, fmt.Sprintf("(bw)%s#%d - %s .. %s", abbrev, src.Number, src.Title, src.HTMLURL))
	f.Set(issue.FieldProject, expandProject(c.projectTemplate, owner, repo))
	if c.defaultPriority != "" {
		f.Set(issue.FieldPriority, c.defaultPriority)
	}
	if c.importLabels {
		tags := make([]string, 0, len(src.Labels))
		for _, l := range src.Labels {
			tags = append(tags, labelTag(l.Name))
		}
		f.Set(issue.FieldTags, tags)
	}

	f.Set(FieldBody, src.Body)
	f.Set(FieldCreatedOn, src.CreatedAt.UTC())
	f.Set(FieldUpdatedAt, src.UpdatedAt.UTC())
	if src.ClosedAt != nil {
		f.Set(FieldClosedOn, src.ClosedAt.UTC())
	}
	if src.Milestone != nil {
		f.Set(FieldMilestone, src.Milestone.Title)
	}
	f.Set(FieldNamespace, owner)
	f.Set(FieldNumber, src.Number)
	f.Set(FieldRepo, owner+"/"+repo)
	f.Set(FieldState, src.State)
	f.Set(FieldTitle, src.Title)
	f.Set(FieldType, kind)
	f.Set(FieldURL, src.HTMLURL)
	f.Set(FieldUser, src.User.Login)
	return iss
}

func splitRepo(slug string) (owner, name string, ok bool) {
	owner, name, ok = strings.Cut(strings.TrimSpace(slug), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	return owner, name, true
}

func expandProject(template, owner, repo string) string {
	return strings.NewReplacer("{owner}", owner, "{repo}", repo).Replace(template)
}

// labelTag turns a label into a tag; tags cannot contain spaces.
func labelTag(label string) string {
	return strings.Join(strings.Fields(label), "_")
}
