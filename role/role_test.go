package role

import (
	"testing"

	"github.com/stretchr/testify/assert"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/ofp"
)

func TestCheckRejectsSlaveMutation(t *testing.T) {
	assert.False(t, Check(Slave, of.TypeFlowMod))
	assert.True(t, Check(Slave, of.TypeEchoRequest))
	assert.True(t, Check(Master, of.TypeFlowMod))
	assert.True(t, Check(Equal, of.TypeFlowMod))
}

func TestAsyncSlot(t *testing.T) {
	assert.Equal(t, 0, Master.AsyncSlot())
	assert.Equal(t, 0, Equal.AsyncSlot())
	assert.Equal(t, 1, Slave.AsyncSlot())
}

type member struct {
	role Role
}

func (m *member) Role() Role      { return m.role }
func (m *member) SetRole(r Role)  { m.role = r }

func TestPromoteDemotesOtherMasters(t *testing.T) {
	a := &member{role: Master}
	b := &member{role: Equal}
	c := &member{role: Slave}

	Promote([]Member{a, b, c}, b)

	assert.Equal(t, Slave, a.Role())
	assert.Equal(t, Master, b.Role())
	assert.Equal(t, Slave, c.Role())
}

func TestGenerationUndefinedAlwaysAccepts(t *testing.T) {
	var g Generation

	assert.Nil(t, g.CheckAndSet(5))

	id, defined := g.Get()
	assert.True(t, defined)
	assert.EqualValues(t, 5, id)
}

func TestGenerationRejectsStale(t *testing.T) {
	var g Generation
	require := assert.New(t)

	require.Nil(g.CheckAndSet(10))
	require.Nil(g.CheckAndSet(10))

	err := g.CheckAndSet(3)
	require.NotNil(err)
	require.Equal(ofp.ErrTypeRoleRequestFailed, err.Err.Type)
	require.Equal(ofp.ErrCodeRoleRequestFailedStale, err.Err.Code)

	id, _ := g.Get()
	require.EqualValues(10, id)
}

func TestAsyncMaskDefaultAllowsAll(t *testing.T) {
	m := DefaultAsyncMask()
	assert.True(t, m.Allows(Master, AsyncPacketIn, 0))
	assert.True(t, m.Allows(Slave, AsyncPortStatus, 2))
}

func TestAsyncMaskSetNarrowsDelivery(t *testing.T) {
	var m AsyncMask
	m.Set(AsyncFlowRemoved, [2]uint32{1 << 1, 0})

	assert.True(t, m.Allows(Master, AsyncFlowRemoved, 1))
	assert.False(t, m.Allows(Master, AsyncFlowRemoved, 0))
	assert.False(t, m.Allows(Slave, AsyncFlowRemoved, 1))
}
