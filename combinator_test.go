package atom

import (
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformEach(t *testing.T) {
	in := []int{3, 1, 2}
	out := TransformEach(in, func(x int) string { return strconv.Itoa(x * 10) })

	assert.Equal(t, []string{"30", "10", "20"}, out)
	assert.Equal(t, []int{3, 1, 2}, in, "input must not change")

	assert.Nil(t, TransformEach[int, int](nil, func(x int) int { return x }))
	assert.Equal(t, []int{}, TransformEach([]int{}, func(x int) int { return x }))
}

func TestTransformSeq(t *testing.T) {
	calls := 0
	seq := TransformSeq(slices.Values([]int{1, 2, 3, 4}), func(x int) int {
		calls++
		return x * x
	})
	assert.Equal(t, 0, calls, "transform runs lazily")

	var got []int
	for v := range seq {
		got = append(got, v)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []int{1, 4}, got)
	assert.Equal(t, 2, calls)

	assert.Equal(t, []int{1, 4, 9, 16}, slices.Collect(seq))
}

func TestScopedApply(t *testing.T) {
	var seen []string
	a := account{Owner: "ada", Balance: 5}

	got := ScopedApply(a, func(a account) {
		seen = append(seen, a.Owner)
	})

	assert.Equal(t, a, got)
	assert.Equal(t, []string{"ada"}, seen)
}

func TestScopedLet(t *testing.T) {
	a := account{Owner: "ada", Balance: 5}
	assert.Equal(t, "ada:5", ScopedLet(a, func(a account) string {
		return a.Owner + ":" + strconv.FormatInt(a.Balance, 10)
	}))
}

func TestCompose_AsUpdateTransform(t *testing.T) {
	deposit := func(n int64) func(account) account {
		return func(a account) account {
			return accountSchema.Derive(a, balanceProp.With(a.Balance+n))
		}
	}
	freeze := func(a account) account {
		return accountSchema.Derive(a, frozenProp.With(true))
	}

	reg := NewRegister(account{Owner: "ada"})
	got, err := reg.Update(Compose(deposit(5), deposit(7), freeze))
	require.NoError(t, err)

	assert.Equal(t, account{Owner: "ada", Balance: 12, Frozen: true}, got)
	assert.Equal(t, uint64(2), reg.Version(), "composed transform publishes once")

	identity := Compose[int]()
	assert.Equal(t, 4, identity(4))
}
