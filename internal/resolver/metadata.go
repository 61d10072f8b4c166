package resolver

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	tokenmetadata "github.com/gagliardetto/metaplex-go/clients/token-metadata"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// MetaplexTokenMetadataProgramID is the Metaplex Token Metadata program.
var MetaplexTokenMetadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

var ErrMetadataNotFound = errors.New("metadata account not found")

// MetadataSource loads the on-chain Metaplex metadata of a mint.
type MetadataSource interface {
	Metadata(ctx context.Context, mint solana.PublicKey) (*tokenmetadata.Metadata, error)
}

// MetadataPDA derives the metadata account address of mint.
func MetadataPDA(mint solana.PublicKey) (solana.PublicKey, error) {
	pda, _, err := solana.FindProgramAddress([][]byte{
		[]byte("metadata"),
		MetaplexTokenMetadataProgramID.Bytes(),
		mint.Bytes(),
	}, MetaplexTokenMetadataProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata PDA: %w", err)
	}
	return pda, nil
}

// PickCreator chooses the creator identity of a token: the first verified
// creator, else the first listed creator, else the update authority.
func PickCreator(meta *tokenmetadata.Metadata) solana.PublicKey {
	if meta.Data.Creators != nil {
		creators := *meta.Data.Creators
		for _, c := range creators {
			if c.Verified {
				return c.Address
			}
		}
		if len(creators) > 0 {
			return creators[0].Address
		}
	}
	return meta.UpdateAuthority
}

// RPCMetadataSource fetches metadata accounts over Solana JSON-RPC.
type RPCMetadataSource struct {
	client *rpc.Client
}

func NewRPCMetadataSource(client *rpc.Client) *RPCMetadataSource {
	return &RPCMetadataSource{client: client}
}

func (s *RPCMetadataSource) Metadata(ctx context.Context, mint solana.PublicKey) (*tokenmetadata.Metadata, error) {
	pda, err := MetadataPDA(mint)
	if err != nil {
		return nil, err
	}

	info, err := s.client.GetAccountInfoWithOpts(ctx, pda, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, ErrMetadataNotFound
		}
		return nil, fmt.Errorf("get metadata account %s: %w", pda, err)
	}
	if info == nil || info.Value == nil {
		return nil, ErrMetadataNotFound
	}

	data := info.Value.Data.GetBinary()
	if len(data) == 0 {
		return nil, ErrMetadataNotFound
	}

	var meta tokenmetadata.Metadata
	if err := bin.NewBorshDecoder(data).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata account %s: %w", pda, err)
	}
	return &meta, nil
}
