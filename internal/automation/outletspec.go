package automation

import (
	"fmt"
	"strconv"
	"strings"

	"pdu-bridge/internal/bridgeerr"
)

// ParseOutletSpec parses the outlet grammar: scalar "n", list
// "n,m,k", or inclusive range "a-b". Returns the unique outlet numbers
// in ascending order.
func ParseOutletSpec(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, bridgeerr.New(bridgeerr.KindRuleInvalid, "empty outlet spec")
	}

	seen := make(map[int]bool)
	var out []int
	add := func(n int) error {
		if n < 1 {
			return bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("outlet number %d out of range", n))
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
		return nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.Index(part, "-"); dash > 0 {
			lo, err1 := strconv.Atoi(strings.TrimSpace(part[:dash]))
			hi, err2 := strconv.Atoi(strings.TrimSpace(part[dash+1:]))
			if err1 != nil || err2 != nil || lo > hi {
				return nil, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid outlet range %q", part))
			}
			for n := lo; n <= hi; n++ {
				if err := add(n); err != nil {
					return nil, err
				}
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, bridgeerr.New(bridgeerr.KindRuleInvalid, fmt.Sprintf("invalid outlet spec %q", part))
		}
		if err := add(n); err != nil {
			return nil, err
		}
	}

	sortInts(out)
	return out, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
