package network

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMembershipObserveMarksOnline(t *testing.T) {
	m := NewMembership("local", "127.0.0.1:1985", 10*time.Millisecond, 50*time.Millisecond, 2, nil, nil)
	m.Observe("peer-1", "127.0.0.1:1986", 1)

	assert.True(t, m.IsOnline("peer-1"))
	assert.ElementsMatch(t, []string{"local", "peer-1"}, m.OnlineNodes())
}

func TestMembershipSweepMarksSuspectThenLost(t *testing.T) {
	m := NewMembership("local", "127.0.0.1:1985", 10*time.Millisecond, 30*time.Millisecond, 2, nil, nil)
	m.Observe("peer-1", "127.0.0.1:1986", 1)

	var lostNodes []string
	m.OnLost(func(id string) { lostNodes = append(lostNodes, id) })

	time.Sleep(25 * time.Millisecond)
	m.sweep()
	assert.False(t, m.IsOnline("peer-1"))

	time.Sleep(40 * time.Millisecond)
	m.sweep()
	assert.Equal(t, []string{"peer-1"}, lostNodes)
}

func TestGetPrimarySecondarySingleNode(t *testing.T) {
	m := NewMembership("local", "127.0.0.1:1985", time.Second, time.Second, 2, nil, nil)
	primary, secondary := m.GetPrimarySecondary()
	assert.Equal(t, "local", primary)
	assert.Equal(t, "local", secondary)
}

func TestGetPrimarySecondaryDistinctNodes(t *testing.T) {
	m := NewMembership("local", "127.0.0.1:1985", time.Second, time.Second, 2, nil, nil)
	m.Observe("peer-1", "127.0.0.1:1986", 1)
	m.Observe("peer-2", "127.0.0.1:1987", 1)

	primary, secondary := m.GetPrimarySecondary()
	assert.NotEqual(t, primary, secondary)
}

func TestGetReplacementExcluding(t *testing.T) {
	m := NewMembership("local", "127.0.0.1:1985", time.Second, time.Second, 2, nil, nil)
	m.Observe("peer-1", "127.0.0.1:1986", 1)

	replacement, ok := m.GetReplacementExcluding("peer-1", "")
	assert.True(t, ok)
	assert.Equal(t, "local", replacement)

	_, ok = m.GetReplacementExcluding("peer-1", "local")
	assert.True(t, ok)
}
