// Package tzinform resolves timezone names to their UTC offset and DST
// rules, from a textual database in the tzdataexport format. Device
// config rendering needs these in decomposed numeric form because most
// phones cannot use IANA names directly.
package tzinform

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/carverauto/provisiond/pkg/logger"
)

// ErrTimezoneNotFound is returned for timezone names absent from the
// database.
var ErrTimezoneNotFound = errors.New("timezone not found")

// Time is a duration in seconds, decomposable the way device config
// formats want it.
type Time int

func (t Time) Seconds() int { return int(t) }

func (t Time) Minutes() int { return int(t) / 60 }

func (t Time) Hours() int { return int(t) / 3600 }

// HMS decomposes the time into hours, minutes and seconds. For negative
// times, only the leftmost non-zero component carries the sign.
func (t Time) HMS() [3]int {
	seconds := int(t)

	negative := seconds < 0
	if negative {
		seconds = -seconds
	}

	hms := [3]int{seconds / 3600, seconds / 60 % 60, seconds % 60}

	if negative {
		for i, v := range hms {
			if v != 0 {
				hms[i] = -v
				break
			}
		}
	}

	return hms
}

// DSTChange is one boundary of a DST period.
type DSTChange struct {
	// Month is the month number, 1-12.
	Month int

	// Day is either an absolute day like "D24" or a week/weekday pair
	// like "W1.6".
	Day string

	// Time is the time of day the change happens.
	Time Time
}

// DSTRule describes when a timezone enters and leaves DST and by how
// much the clock shifts.
type DSTRule struct {
	Start DSTChange
	End   DSTChange
	Save  Time

	// Raw is the rule as it appeared in the database.
	Raw string
}

// Info is the resolved information for one timezone.
type Info struct {
	UTCOffset Time

	// DST is nil for timezones without daylight saving time.
	DST *DSTRule
}

// Database resolves timezone names.
type Database interface {
	TimezoneInfo(name string) (*Info, error)
}

// TextDatabase is a Database backed by a tzdataexport text file: one
// `name offset dst-rule` triple per line, `#` comments, `-` for no DST.
type TextDatabase struct {
	db map[string]*Info
}

func NewTextDatabase(filename string) (*TextDatabase, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening timezone database: %w", err)
	}
	defer f.Close()

	return ReadTextDatabase(f)
}

// ReadTextDatabase parses a tzdataexport stream.
func ReadTextDatabase(r io.Reader) (*TextDatabase, error) {
	db := make(map[string]*Info)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed timezone database line: %q", line)
		}

		offset, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("malformed timezone offset in line %q: %w", line, err)
		}

		dst, err := parseDSTRule(fields[2])
		if err != nil {
			return nil, fmt.Errorf("malformed DST rule in line %q: %w", line, err)
		}

		db[fields[0]] = &Info{UTCOffset: Time(offset), DST: dst}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading timezone database: %w", err)
	}

	return &TextDatabase{db: db}, nil
}

func parseDSTRule(raw string) (*DSTRule, error) {
	if raw == "-" {
		return nil, nil
	}

	tokens := strings.Split(raw, ";")
	if len(tokens) != 3 {
		return nil, fmt.Errorf("expected start;end;save, got %q", raw)
	}

	start, err := parseDSTChange(tokens[0])
	if err != nil {
		return nil, err
	}

	end, err := parseDSTChange(tokens[1])
	if err != nil {
		return nil, err
	}

	save, err := strconv.Atoi(tokens[2])
	if err != nil {
		return nil, fmt.Errorf("invalid DST save %q: %w", tokens[2], err)
	}

	return &DSTRule{Start: start, End: end, Save: Time(save), Raw: raw}, nil
}

func parseDSTChange(raw string) (DSTChange, error) {
	tokens := strings.Split(raw, "/")
	if len(tokens) != 3 {
		return DSTChange{}, fmt.Errorf("expected month/day/time, got %q", raw)
	}

	month, err := strconv.Atoi(tokens[0])
	if err != nil {
		return DSTChange{}, fmt.Errorf("invalid DST month %q: %w", tokens[0], err)
	}

	t, err := strconv.Atoi(tokens[2])
	if err != nil {
		return DSTChange{}, fmt.Errorf("invalid DST time %q: %w", tokens[2], err)
	}

	return DSTChange{Month: month, Day: tokens[1], Time: Time(t)}, nil
}

// TimezoneInfo returns the info of the named timezone, or an error
// wrapping ErrTimezoneNotFound.
func (d *TextDatabase) TimezoneInfo(name string) (*Info, error) {
	info, ok := d.db[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTimezoneNotFound, name)
	}

	return info, nil
}

// DefaultDatabase wraps another Database and falls back to a default
// timezone for unknown names.
type DefaultDatabase struct {
	db          Database
	defaultInfo *Info
	log         logger.Logger
}

// NewDefaultDatabase resolves defaultName once at construction; an
// unknown default is an error.
func NewDefaultDatabase(db Database, defaultName string, log logger.Logger) (*DefaultDatabase, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	info, err := db.TimezoneInfo(defaultName)
	if err != nil {
		return nil, err
	}

	return &DefaultDatabase{db: db, defaultInfo: info, log: log}, nil
}

func (d *DefaultDatabase) TimezoneInfo(name string) (*Info, error) {
	info, err := d.db.TimezoneInfo(name)
	if err != nil {
		if errors.Is(err, ErrTimezoneNotFound) {
			d.log.Debug().Str("timezone", name).Msg("Unknown timezone, using default")
			return d.defaultInfo, nil
		}

		return nil, err
	}

	return info, nil
}
