/*package format expands the sequence mini-language used to list block IDs and
refinement levels in vlsv configuration files, e.g:

   Refine = 0..7 - 3
   Levels = 1 + 2

A sequence is a series of tokens separated by "+" or "-". Each token is
either a natural number or two numbers separated by "..", which stands for
every number between them, inclusive:

  100
  0..100
  0..10 + 100
  0..100 - 63 - 10..20

Tokens after a "+" are added to the sequence and tokens after a "-" are
removed from it. A leading "+" may be dropped. Adding a number twice, or
removing one that isn't there, is an error. The expanded sequence is sorted.

All spaces around "-" and "+" are ignored.
*/
package format

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	verr "github.com/phil-mansfield/vlsv/lib/error"
)

const (
	// Any expanded sequence which would have more than BigNumber elements is
	// assumed to be a typo.
	BigNumber = 1 << 20
)

// ExpandSequenceFormat expands a sequence format string into a sorted sequence
// of integers.
func ExpandSequenceFormat(format string) ([]int, error) {
	tok, err := tokeniseSequenceFormat(format)
	if err != nil {
		return nil, err
	}
	adds, subs, err := addsSubsSequenceFormat(tok)
	if err != nil {
		return nil, err
	}

	m := map[int]struct{}{}
	for i := range adds {
		lo, hi := sequenceTokenBounds(adds[i])
		if hi-lo+1 > BigNumber || len(m)+(hi-lo+1) > BigNumber {
			return nil, fmt.Errorf("'%s' would expand to more than %d "+
				"elements, which is almost certainly a typo", format,
				BigNumber)
		}
		for n := lo; n <= hi; n++ {
			if _, ok := m[n]; ok {
				return nil, fmt.Errorf("the number %d is added more than "+
					"once", n)
			}
			m[n] = struct{}{}
		}
	}

	for i := range subs {
		lo, hi := sequenceTokenBounds(subs[i])
		for n := lo; n <= hi; n++ {
			if _, ok := m[n]; !ok {
				return nil, fmt.Errorf("the number %d is removed more times "+
					"than it was added", n)
			}
			delete(m, n)
		}
	}

	out := make([]int, 0, len(m))
	for n := range m {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// ExpandUint64s is ExpandSequenceFormat for callers that store the sequence
// as unsigned integers, such as block IDs.
func ExpandUint64s(format string) ([]uint64, error) {
	seq, err := ExpandSequenceFormat(format)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(seq))
	for i := range seq {
		out[i] = uint64(seq[i])
	}
	return out, nil
}

// tokeniseSequenceFormat splits a sequence format string into numbers,
// ranges, and operators.
func tokeniseSequenceFormat(format string) ([]string, error) {
	clean := strings.ReplaceAll(format, "+", " + ")
	clean = strings.ReplaceAll(clean, "-", " - ")

	tok := strings.Fields(clean)
	if len(tok) == 0 {
		return nil, fmt.Errorf("the sequence is empty")
	}
	return tok, nil
}

func addsSubsSequenceFormat(tok []string) (adds, subs []string, err error) {
	if len(tok) == 0 {
		return nil, nil, fmt.Errorf("the sequence is empty")
	}

	adds, subs = []string{}, []string{}
	start := 0
	if tok[0] != "+" && tok[0] != "-" {
		if err := isSequenceFormatToken(tok[0]); err != nil {
			return nil, nil, fmt.Errorf(
				"element 1, '%s', cannot be parsed because %s",
				tok[0], err.Error(),
			)
		}
		adds = append(adds, tok[0])
		start = 1
	}

	for i := start; i < len(tok); i += 2 {
		if tok[i] != "-" && tok[i] != "+" {
			return nil, nil, fmt.Errorf(
				"element %d, '%s', should be a '-' or '+'", i+1, tok[i])
		}
		if i+1 >= len(tok) {
			return nil, nil, fmt.Errorf("the sequence ends in a trailing '%s'",
				tok[i])
		}
		if err := isSequenceFormatToken(tok[i+1]); err != nil {
			return nil, nil, fmt.Errorf(
				"element %d, '%s', cannot be parsed because %s",
				i+2, tok[i+1], err.Error(),
			)
		}

		if tok[i] == "+" {
			adds = append(adds, tok[i+1])
		} else {
			subs = append(subs, tok[i+1])
		}
	}

	return adds, subs, nil
}

// isSequenceFormatToken returns a nil error if tok is a valid number or range
// and an error describing the problem otherwise. The message reads correctly
// after a "because".
func isSequenceFormatToken(tok string) error {
	if len(tok) == 0 {
		return fmt.Errorf("it is empty")
	}

	bounds := strings.Split(tok, "..")
	switch len(bounds) {
	case 1:
		if _, err := strconv.Atoi(bounds[0]); err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[0])
		}
		return nil
	case 2:
		start, err := strconv.Atoi(bounds[0])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[0])
		}
		end, err := strconv.Atoi(bounds[1])
		if err != nil {
			return fmt.Errorf("'%s' is not an integer", bounds[1])
		}
		if end < start {
			return fmt.Errorf("lower bound %d is larger than upper bound %d",
				start, end)
		}
		return nil
	}
	return fmt.Errorf("it has more than one '..'")
}

// sequenceTokenBounds returns the inclusive range covered by a token that has
// already passed isSequenceFormatToken.
func sequenceTokenBounds(tok string) (lo, hi int) {
	bounds := strings.Split(tok, "..")

	switch len(bounds) {
	case 1:
		n, _ := strconv.Atoi(tok)
		return n, n
	case 2:
		lo, _ = strconv.Atoi(bounds[0])
		hi, _ = strconv.Atoi(bounds[1])
		return lo, hi
	}

	verr.Internal("Invalid sequence token, '%s', passed "+
		"isSequenceFormatToken()", tok)
	return 0, -1
}
