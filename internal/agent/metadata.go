package agent

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"AgentNFT-Chain/internal/types"
)

// GetMetadata 返回代理的扩展元数据。
func (t *Token) GetMetadata(id uint64) (types.ExtendedMetadata, error) {
	if !t.ids.Exists(id) {
		return types.ExtendedMetadata{}, types.ErrNotFound.Errorf("identity %d does not exist", id)
	}
	md, _ := t.db.Metadata(id)
	return md, nil
}

// TokenURI 返回代理的描述文档地址。
func (t *Token) TokenURI(id uint64) (string, error) {
	if !t.ids.Exists(id) {
		return "", types.ErrNotFound.Errorf("identity %d does not exist", id)
	}
	return t.db.TokenURI(id), nil
}

// UpdateMetadata 整体替换扩展元数据，仅所有者可调用。
func (t *Token) UpdateMetadata(caller common.Address, id uint64, md types.ExtendedMetadata) error {
	return t.atomic(func() error {
		if err := t.requireOwner(caller, id); err != nil {
			return err
		}
		t.db.SetMetadata(id, md)
		t.emit(EventMetadataUpdated, idArg(id), t.db.TokenURI(id))
		return nil
	})
}

// SetMetadataURI 更新描述文档地址，仅所有者可调用。
func (t *Token) SetMetadataURI(caller common.Address, id uint64, uri string) error {
	return t.atomic(func() error {
		if err := t.requireOwner(caller, id); err != nil {
			return err
		}
		if strings.TrimSpace(uri) == "" {
			return types.ErrInvalidMetadataURI
		}
		t.db.SetTokenURI(id, uri)
		t.emit(EventMetadataUpdated, idArg(id), uri)
		return nil
	})
}
