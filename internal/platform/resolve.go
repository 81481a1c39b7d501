package platform

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
)

var projectIDPattern = regexp.MustCompile(`^(project|container)-[0-9A-Za-z]{24}$`)

// ValidProjectID reports whether s is syntactically a project identifier.
func ValidProjectID(s string) bool {
	return projectIDPattern.MatchString(s)
}

// ResolveProject turns a project name or id into exactly one project.
// Zero matches is ErrNotFound, more than one is ErrAmbiguousName.
func (c *Client) ResolveProject(ctx context.Context, nameOrID string) (*Project, error) {
	if ValidProjectID(nameOrID) {
		return c.DescribeProject(ctx, nameOrID)
	}

	ids, err := c.FindProjects(ctx, nameOrID)
	if err != nil {
		return nil, err
	}
	switch len(ids) {
	case 0:
		log.Warn().Str("project", nameOrID).Msg("did not find project")
		return nil, fmt.Errorf("project %q: %w", nameOrID, ErrNotFound)
	case 1:
		return c.DescribeProject(ctx, ids[0])
	default:
		return nil, fmt.Errorf("found %d projects matching %q: %w", len(ids), nameOrID, ErrAmbiguousName)
	}
}

// LookupApplet finds the applet called name directly inside folder.
func (c *Client) LookupApplet(ctx context.Context, project *Project, folder, name string) (*Applet, error) {
	objs, err := c.FindDataObjects(ctx, DataObjectQuery{
		Class:   "applet",
		Name:    name,
		Project: project.ID,
		Folder:  folder,
		Limit:   1,
	})
	if err != nil {
		return nil, err
	}
	switch len(objs) {
	case 0:
		return nil, fmt.Errorf("applet %s not found in folder %s: %w", name, folder, ErrNotFound)
	case 1:
		return &Applet{ID: objs[0].ID, Project: project.ID}, nil
	default:
		return nil, fmt.Errorf("applet search limited to 1 returned %d results: %w", len(objs), ErrInvariant)
	}
}

// IsNotFound is a convenience for callers that treat a miss as non-fatal.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
