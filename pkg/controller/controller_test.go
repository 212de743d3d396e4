package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCompareIgnoresPatch(t *testing.T) {
	a := Version{Major: 5, Minor: 0, Build: 1, Patch: 9}
	b := Version{Major: 5, Minor: 0, Build: 1, Patch: 0}
	assert.Equal(t, 0, a.Compare(b))

	c := Version{Major: 4, Minor: 9, Build: 9}
	assert.Equal(t, -1, c.Compare(a))
	assert.Equal(t, 1, a.Compare(c))
}

func TestFakeSubscriptionBuffersWhilePaused(t *testing.T) {
	sub := NewFakeSubscription()
	var got []ClassQueryResult
	require.NoError(t, sub.AddInterest(context.Background(), "fvBD", func(ctx context.Context, ev ClassQueryResult) {
		got = append(got, ev)
	}, true))

	sub.Deliver("fvBD", ClassQueryResult{Dn: "uni/tn-x/bd-y"})
	assert.Empty(t, got, "paused class should buffer, not deliver")

	require.NoError(t, sub.Resume(context.Background(), "fvBD"))
	require.Len(t, got, 1)
	assert.Equal(t, "uni/tn-x/bd-y", got[0].Dn)
}

func TestMemMoClassRebuild(t *testing.T) {
	session := NewFakeSession(Version{Major: 5})
	session.Add(ClassQueryResult{Dn: "uni/tn-x/ctx-vrf1", Class: "fvCtx", Attrs: MoAttrs{"name": "vrf1"}})

	mo := NewMemMoClass("fvCtx")
	require.NoError(t, mo.Rebuild(context.Background(), session))

	cache := mo.Cache()
	require.Len(t, cache, 1)
	assert.Equal(t, "vrf1", cache["uni/tn-x/ctx-vrf1"].Attrs["name"])
}
