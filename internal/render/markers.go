package render

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var reMarker = regexp.MustCompile(`(?m)^[ \t]*\[Page (\d+)\][ \t]*$`)

// Page is one page worth of text from a marker-delimited stream.
type Page struct {
	Number int
	Text   string
}

// SplitPages splits text on "[Page N]" marker lines. Text without any marker is
// page 1; text before the first marker is folded into page 1 as well. Repeated
// markers for the same page are concatenated.
func SplitPages(text string) []Page {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	locs := reMarker.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Page{{Number: 1, Text: text}}
	}

	byNum := map[int][]string{}
	add := func(n int, s string) {
		if s = strings.TrimSpace(s); s != "" {
			byNum[n] = append(byNum[n], s)
		} else if _, ok := byNum[n]; !ok {
			byNum[n] = nil
		}
	}
	if pre := text[:locs[0][0]]; strings.TrimSpace(pre) != "" {
		add(1, pre)
	}
	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		add(n, text[loc[1]:end])
	}

	nums := make([]int, 0, len(byNum))
	for n := range byNum {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]Page, 0, len(nums))
	for _, n := range nums {
		out = append(out, Page{Number: n, Text: strings.Join(byNum[n], "\n\n")})
	}
	return out
}
