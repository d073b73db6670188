package types

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Transaction 是一条已签名的账本请求，每笔交易只携带一个动作。
type Transaction struct {
	ChainID   hexutil.Uint64 `json:"chainId"`
	Nonce     hexutil.Uint64 `json:"nonce"`
	Value     *hexutil.Big   `json:"value,omitempty"`
	Action    Action         `json:"action"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
}

type signingFields struct {
	ChainID uint64
	Nonce   uint64
	Value   *big.Int
	Kind    string
	Payload []byte
}

// hashFields 的字段必须导出，RLP 会跳过未导出字段。
type hashFields struct {
	Fields    signingFields
	Signature []byte
}

// NewTransaction 构造未签名交易。
func NewTransaction(chainID, nonce uint64, value *big.Int, action Action) *Transaction {
	tx := &Transaction{
		ChainID: hexutil.Uint64(chainID),
		Nonce:   hexutil.Uint64(nonce),
		Action:  action,
	}
	if value != nil && value.Sign() != 0 {
		tx.Value = (*hexutil.Big)(new(big.Int).Set(value))
	}
	return tx
}

// ValueInt 返回附带金额，不会为 nil。
func (tx *Transaction) ValueInt() *big.Int {
	if tx.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(tx.Value.ToInt())
}

func (tx *Transaction) fields() signingFields {
	return signingFields{
		ChainID: uint64(tx.ChainID),
		Nonce:   uint64(tx.Nonce),
		Value:   tx.ValueInt(),
		Kind:    string(tx.Action.Kind),
		Payload: tx.Action.Payload,
	}
}

// SigningHash 返回签名覆盖的摘要。
func (tx *Transaction) SigningHash() common.Hash {
	return rlpHash(tx.fields())
}

// Hash 是交易标识，覆盖全部签名字段与签名本身。
func (tx *Transaction) Hash() common.Hash {
	return rlpHash(hashFields{Fields: tx.fields(), Signature: tx.Signature})
}

// Sign 使用 key 原地签名。
func (tx *Transaction) Sign(key *ecdsa.PrivateKey) error {
	sig, err := crypto.Sign(tx.SigningHash().Bytes(), key)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Sender 从签名恢复发送方地址。
func (tx *Transaction) Sender() (common.Address, error) {
	if len(tx.Signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	r := new(big.Int).SetBytes(tx.Signature[:32])
	s := new(big.Int).SetBytes(tx.Signature[32:64])
	if !crypto.ValidateSignatureValues(tx.Signature[64], r, s, true) {
		return common.Address{}, ErrInvalidSignature.Errorf("signature values out of range")
	}
	pub, err := crypto.SigToPub(tx.SigningHash().Bytes(), tx.Signature)
	if err != nil {
		return common.Address{}, ErrInvalidSignature.Errorf("recover signer: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Message 是已解析发送方的交易，交给合约执行。
type Message struct {
	From   common.Address
	Value  *big.Int
	Action Action
	// Origin 为在委托调用中发出该消息的代理编号；签名交易与收款回调为 0。
	Origin uint64
}

// AsMessage 恢复发送方并返回待执行的消息。
func (tx *Transaction) AsMessage() (Message, error) {
	from, err := tx.Sender()
	if err != nil {
		return Message{}, err
	}
	return Message{From: from, Value: tx.ValueInt(), Action: tx.Action}, nil
}

func rlpHash(x any) (h common.Hash) {
	sha := crypto.NewKeccakState()
	_ = rlp.Encode(sha, x)
	_, _ = sha.Read(h[:])
	return h
}
