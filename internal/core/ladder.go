package core

import (
	"fmt"
	"sort"
	"strings"
)

// Ladder maps a size label to the instance types tested at that size.
// Lists are kept short on purpose: every entry is a paid remote job.
type Ladder map[string][]string

var awsLadder = Ladder{
	"small": {"mem1_ssd1_x4"},
	"large": {"mem1_ssd1_x4", "mem1_ssd1_x16", "mem3_ssd1_x32"},
}

var azureLadder = Ladder{
	"small": {"azure:mem1_ssd1_x4"},
	"large": {"azure:mem1_ssd1_x4", "azure:mem1_ssd1_x16", "azure:mem3_ssd1_x16"},
}

// LadderFor picks the ladder for the region family of a project region
// such as "aws:us-east-1" or "azure:westus".
func LadderFor(region string) (Ladder, error) {
	switch {
	case strings.HasPrefix(region, "aws:"):
		return awsLadder, nil
	case strings.HasPrefix(region, "azure"):
		return azureLadder, nil
	}
	return nil, fmt.Errorf("region %q: %w", region, ErrUnsupportedRegion)
}

// InstanceTypes returns a copy of the list for size.
func (l Ladder) InstanceTypes(size string) ([]string, error) {
	itypes, ok := l[size]
	if !ok {
		return nil, fmt.Errorf("size %q (want one of %s): %w", size, strings.Join(l.Sizes(), ", "), ErrUnsupportedSize)
	}
	return append([]string(nil), itypes...), nil
}

// Sizes lists the size labels in sorted order.
func (l Ladder) Sizes() []string {
	sizes := make([]string, 0, len(l))
	for s := range l {
		sizes = append(sizes, s)
	}
	sort.Strings(sizes)
	return sizes
}

// SelectInstanceTypes combines LadderFor and InstanceTypes.
func SelectInstanceTypes(region, size string) ([]string, error) {
	l, err := LadderFor(region)
	if err != nil {
		return nil, err
	}
	return l.InstanceTypes(size)
}
