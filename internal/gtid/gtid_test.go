package gtid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zhukovaskychina/keycache/internal/gtid"
)

func TestAddCoalescesAdjacentIntervals(t *testing.T) {
	s := gtid.New()
	s.Add("sid-a", 1)
	s.Add("sid-a", 2)
	s.Add("sid-a", 3)

	ivs := s.Intervals("sid-a")
	assert.Len(t, ivs, 1)
	assert.Equal(t, gtid.Interval{Start: 1, End: 3}, ivs[0])
}

func TestContains(t *testing.T) {
	s := gtid.New()
	s.AddInterval("sid-a", gtid.Interval{Start: 1, End: 5})

	assert.True(t, s.Contains("sid-a", 3))
	assert.False(t, s.Contains("sid-a", 6))
	assert.False(t, s.Contains("sid-b", 1))
}

func TestIsSubsetOf(t *testing.T) {
	small := gtid.New()
	small.AddInterval("sid-a", gtid.Interval{Start: 1, End: 5})

	big := gtid.New()
	big.AddInterval("sid-a", gtid.Interval{Start: 1, End: 10})
	big.AddInterval("sid-b", gtid.Interval{Start: 1, End: 1})

	assert.True(t, small.IsSubsetOf(big))
	assert.False(t, big.IsSubsetOf(small))
}

func TestUnionAndIntersect(t *testing.T) {
	a := gtid.New()
	a.AddInterval("sid-a", gtid.Interval{Start: 1, End: 5})
	b := gtid.New()
	b.AddInterval("sid-a", gtid.Interval{Start: 3, End: 8})

	u := gtid.Union(a, b)
	assert.True(t, u.Contains("sid-a", 1))
	assert.True(t, u.Contains("sid-a", 8))

	i := gtid.Intersect(a, b)
	assert.False(t, i.Contains("sid-a", 1))
	assert.True(t, i.Contains("sid-a", 3))
	assert.True(t, i.Contains("sid-a", 5))
	assert.False(t, i.Contains("sid-a", 6))
}

func TestStringRendersIntervals(t *testing.T) {
	s := gtid.New()
	s.AddInterval("sid-a", gtid.Interval{Start: 1, End: 5})
	s.Add("sid-a", 7)

	assert.Equal(t, "sid-a:1-5:7", s.String())
}
