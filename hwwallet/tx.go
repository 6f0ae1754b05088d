// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package hwwallet

import "github.com/sunyihoo/hwsigner/common/hexutil"

// TxInput is an input of the transaction handed over by the wallet session.
// TxInput 是钱包会话交付的交易输入。
type TxInput struct {
	TxHash        string                  `json:"txhash"`         // Previous transaction id in display order
	PtIdx         uint32                  `json:"pt_idx"`         // Previous output index
	Satoshi       uint64                  `json:"satoshi"`        // Amount of the spent output
	Sequence      uint32                  `json:"sequence"`       // Input sequence number
	PrevoutScript hexutil.UnprefixedBytes `json:"prevout_script"` // Script of the spent output
	UserPath      DerivationPath          `json:"user_path"`      // Key path signing this input
}

// TxOutput is an output of the transaction handed over by the wallet session.
type TxOutput struct {
	Script  hexutil.UnprefixedBytes `json:"script"`
	Satoshi uint64                  `json:"satoshi"`
}

// Transaction is the unsigned transaction to sign.
type Transaction struct {
	Version  uint32     `json:"transaction_version"`
	Locktime uint32     `json:"transaction_locktime"`
	Inputs   []TxInput  `json:"inputs"`
	Outputs  []TxOutput `json:"outputs"`
}
