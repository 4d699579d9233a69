package tzinform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDatabase = `# tzdataexport
Europe/Paris	3600	3/W5.6/3600;10/W5.6/7200;3600
America/Montreal	-18000	3/W2.6/7200;11/W1.6/7200;3600
Etc/UTC	0	-
`

func newTestDatabase(t *testing.T) *TextDatabase {
	t.Helper()

	db, err := ReadTextDatabase(strings.NewReader(testDatabase))
	require.NoError(t, err)

	return db
}

func TestTimezoneInfo(t *testing.T) {
	db := newTestDatabase(t)

	info, err := db.TimezoneInfo("Europe/Paris")
	require.NoError(t, err)
	assert.Equal(t, 1, info.UTCOffset.Hours())
	require.NotNil(t, info.DST)
	assert.Equal(t, 3, info.DST.Start.Month)
	assert.Equal(t, "W5.6", info.DST.Start.Day)
	assert.Equal(t, 10, info.DST.End.Month)
	assert.Equal(t, Time(3600), info.DST.Save)

	info, err = db.TimezoneInfo("Etc/UTC")
	require.NoError(t, err)
	assert.Zero(t, info.UTCOffset.Seconds())
	assert.Nil(t, info.DST)
}

func TestTimezoneInfoNotFound(t *testing.T) {
	db := newTestDatabase(t)

	_, err := db.TimezoneInfo("Moon/Sea_of_Tranquility")
	assert.ErrorIs(t, err, ErrTimezoneNotFound)
}

func TestReadTextDatabaseMalformed(t *testing.T) {
	_, err := ReadTextDatabase(strings.NewReader("Europe/Paris 3600\n"))
	assert.Error(t, err)

	_, err = ReadTextDatabase(strings.NewReader("Europe/Paris abc -\n"))
	assert.Error(t, err)

	_, err = ReadTextDatabase(strings.NewReader("Europe/Paris 3600 bogus\n"))
	assert.Error(t, err)
}

func TestTimeHMS(t *testing.T) {
	assert.Equal(t, [3]int{1, 0, 2}, Time(3602).HMS())
	assert.Equal(t, [3]int{-1, 0, 2}, Time(-3602).HMS())
	assert.Equal(t, [3]int{0, 0, -2}, Time(-2).HMS())
	assert.Equal(t, [3]int{0, -30, 0}, Time(-1800).HMS())
}

func TestTimeUnits(t *testing.T) {
	assert.Equal(t, -18000, Time(-18000).Seconds())
	assert.Equal(t, -300, Time(-18000).Minutes())
	assert.Equal(t, -5, Time(-18000).Hours())
}

func TestDefaultDatabaseFallsBack(t *testing.T) {
	db := newTestDatabase(t)

	defaulted, err := NewDefaultDatabase(db, "Europe/Paris", nil)
	require.NoError(t, err)

	info, err := defaulted.TimezoneInfo("Moon/Sea_of_Tranquility")
	require.NoError(t, err)
	assert.Equal(t, 1, info.UTCOffset.Hours())

	info, err = defaulted.TimezoneInfo("America/Montreal")
	require.NoError(t, err)
	assert.Equal(t, -5, info.UTCOffset.Hours())
}

func TestDefaultDatabaseUnknownDefault(t *testing.T) {
	db := newTestDatabase(t)

	_, err := NewDefaultDatabase(db, "Nowhere/Nothing", nil)
	assert.ErrorIs(t, err, ErrTimezoneNotFound)
}
