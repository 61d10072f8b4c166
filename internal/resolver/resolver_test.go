package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bags-claim-sniper/internal/parser"

	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testMint      = solana.MustPublicKeyFromBase58("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")
	testCreator   = solana.MustPublicKeyFromBase58("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU")
	testAuthority = solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
)

type fakeSource struct {
	calls atomic.Int32
	meta  *tokenmetadata.Metadata
	err   error
	delay time.Duration
}

func (f *fakeSource) Metadata(ctx context.Context, _ solana.PublicKey) (*tokenmetadata.Metadata, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.meta, f.err
}

func metaWith(authority solana.PublicKey, creators ...tokenmetadata.Creator) *tokenmetadata.Metadata {
	meta := &tokenmetadata.Metadata{UpdateAuthority: authority}
	if creators != nil {
		meta.Data.Creators = &creators
	}
	return meta
}

func TestPickCreator(t *testing.T) {
	tests := []struct {
		name string
		meta *tokenmetadata.Metadata
		want solana.PublicKey
	}{
		{
			name: "first verified wins",
			meta: metaWith(testAuthority,
				tokenmetadata.Creator{Address: testMint, Verified: false, Share: 50},
				tokenmetadata.Creator{Address: testCreator, Verified: true, Share: 50},
			),
			want: testCreator,
		},
		{
			name: "first listed when none verified",
			meta: metaWith(testAuthority,
				tokenmetadata.Creator{Address: testMint, Share: 100},
				tokenmetadata.Creator{Address: testCreator, Share: 0},
			),
			want: testMint,
		},
		{
			name: "update authority without creators",
			meta: metaWith(testAuthority),
			want: testAuthority,
		},
		{
			name: "update authority with empty creators",
			meta: func() *tokenmetadata.Metadata {
				m := metaWith(testAuthority)
				empty := []tokenmetadata.Creator{}
				m.Data.Creators = &empty
				return m
			}(),
			want: testAuthority,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PickCreator(tt.meta))
		})
	}
}

func TestDeriveVault(t *testing.T) {
	programs := parser.DefaultPrograms()

	v1, err := DeriveVault(programs, parser.ProgramV1, testMint)
	require.NoError(t, err)
	v2, err := DeriveVault(programs, parser.ProgramV2, testMint)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	want1, _, err := solana.FindProgramAddress([][]byte{[]byte("fee_share_config"), testMint.Bytes()}, programs.V1)
	require.NoError(t, err)
	assert.Equal(t, want1, v1)

	want2, _, err := solana.FindProgramAddress([][]byte{[]byte("fee_share_config"), testMint.Bytes(), NativeMint.Bytes()}, programs.V2)
	require.NoError(t, err)
	assert.Equal(t, want2, v2)

	again, err := DeriveVault(programs, parser.ProgramV1, testMint)
	require.NoError(t, err)
	assert.Equal(t, v1, again)
}

func TestVaultMap_Resolve(t *testing.T) {
	m := NewVaultMap()
	vault := testAuthority
	m.Add(vault, testMint)

	input := parser.NewAccountSet(vault, testCreator)
	resolved := m.Resolve(input)

	assert.True(t, resolved.Contains(vault))
	assert.True(t, resolved.Contains(testCreator))
	assert.True(t, resolved.Contains(testMint))
	assert.Len(t, input, 2, "input must not be modified")

	token, ok := m.Lookup(vault)
	assert.True(t, ok)
	assert.Equal(t, testMint, token)

	unrelated := m.Resolve(parser.NewAccountSet(testCreator))
	assert.Len(t, unrelated, 1)
}

func TestResolver_RegisterVaults(t *testing.T) {
	programs := parser.DefaultPrograms()
	r := New(programs, &fakeSource{}, time.Second)

	r.RegisterVaults(testMint)
	assert.Equal(t, 2, r.Vaults().Len())

	for _, version := range programs.Versions() {
		vault, err := DeriveVault(programs, version, testMint)
		require.NoError(t, err)
		token, ok := r.Vaults().Lookup(vault)
		assert.True(t, ok, version.String())
		assert.Equal(t, testMint, token)
	}
}

func TestResolver_ResolveCreatorCaches(t *testing.T) {
	source := &fakeSource{meta: metaWith(testAuthority, tokenmetadata.Creator{Address: testCreator, Verified: true, Share: 100})}
	r := New(parser.DefaultPrograms(), source, time.Second)

	_, ok := r.CachedCreator(testMint)
	assert.False(t, ok)

	creator, err := r.ResolveCreator(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, testCreator, creator)

	creator, err = r.ResolveCreator(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, testCreator, creator)
	assert.Equal(t, int32(1), source.calls.Load())

	cached, ok := r.CachedCreator(testMint)
	assert.True(t, ok)
	assert.Equal(t, testCreator, cached)
}

func TestResolver_ResolveCreatorDeduplicatesConcurrentFetches(t *testing.T) {
	source := &fakeSource{meta: metaWith(testAuthority), delay: 50 * time.Millisecond}
	r := New(parser.DefaultPrograms(), source, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creator, err := r.ResolveCreator(context.Background(), testMint)
			assert.NoError(t, err)
			assert.Equal(t, testAuthority, creator)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), source.calls.Load())
}

func TestResolver_ResolveCreatorError(t *testing.T) {
	source := &fakeSource{err: ErrMetadataNotFound}
	r := New(parser.DefaultPrograms(), source, time.Second)

	_, err := r.ResolveCreator(context.Background(), testMint)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMetadataNotFound))

	_, ok := r.CachedCreator(testMint)
	assert.False(t, ok, "failures are not cached")
}

func TestResolver_ResolveCreatorTimeout(t *testing.T) {
	source := &fakeSource{meta: metaWith(testAuthority), delay: time.Second}
	r := New(parser.DefaultPrograms(), source, 20*time.Millisecond)

	_, err := r.ResolveCreator(context.Background(), testMint)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMetadataPDA(t *testing.T) {
	pda, err := MetadataPDA(testMint)
	require.NoError(t, err)

	want, _, err := solana.FindProgramAddress([][]byte{
		[]byte("metadata"),
		MetaplexTokenMetadataProgramID.Bytes(),
		testMint.Bytes(),
	}, MetaplexTokenMetadataProgramID)
	require.NoError(t, err)
	assert.Equal(t, want, pda)
}
