// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

import (
	"fmt"
	"slices"
)

// Opcode identifies an instruction.
type Opcode int

const (
	// OpAlloca allocates ElemType (times the optional Operands[0] count) in
	// the current frame and yields a pointer.
	OpAlloca Opcode = iota

	// OpLoad reads Typ from the pointer Operands[0].
	OpLoad

	// OpStore writes Operands[0] to the pointer Operands[1].
	OpStore

	// OpGEP computes an address from the base pointer Operands[0] and the
	// indices Operands[1:], interpreting the base as pointing to ElemType.
	OpGEP

	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpURem
	OpAnd
	OpOr
	OpShl
	OpLShr

	// OpICmp compares two integers with Pred and yields an i1.
	OpICmp

	// OpSelect yields Operands[1] if Operands[0] is true, else Operands[2].
	OpSelect

	OpTrunc
	OpZExt
	OpAddrSpaceCast

	// OpCall calls Callee with Operands as arguments.
	OpCall

	// OpFence orders memory according to Semantics.
	OpFence

	// OpBr jumps to Succs[0].
	OpBr

	// OpCondBr jumps to Succs[0] if Operands[0] is true, else to Succs[1].
	OpCondBr

	// OpRet returns Operands[0], or nothing when Operands is empty.
	OpRet
)

var opcodeNames = [...]string{
	OpAlloca:        "alloca",
	OpLoad:          "load",
	OpStore:         "store",
	OpGEP:           "getelementptr",
	OpAdd:           "add",
	OpSub:           "sub",
	OpMul:           "mul",
	OpUDiv:          "udiv",
	OpURem:          "urem",
	OpAnd:           "and",
	OpOr:            "or",
	OpShl:           "shl",
	OpLShr:          "lshr",
	OpICmp:          "icmp",
	OpSelect:        "select",
	OpTrunc:         "trunc",
	OpZExt:          "zext",
	OpAddrSpaceCast: "addrspacecast",
	OpCall:          "call",
	OpFence:         "fence",
	OpBr:            "br",
	OpCondBr:        "br",
	OpRet:           "ret",
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	if int(op) >= 0 && int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// IsBinary reports whether op is an integer binary operator.
func (op Opcode) IsBinary() bool {
	return op >= OpAdd && op <= OpLShr
}

// IsCast reports whether op is a conversion.
func (op Opcode) IsCast() bool {
	return op == OpTrunc || op == OpZExt || op == OpAddrSpaceCast
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	return op == OpBr || op == OpCondBr || op == OpRet
}

// IntPred is an integer comparison predicate.
type IntPred int

const (
	PredEQ IntPred = iota
	PredNE
	PredULT
	PredULE
	PredUGT
	PredUGE
)

var predNames = [...]string{"eq", "ne", "ult", "ule", "ugt", "uge"}

func (p IntPred) String() string { return predNames[p] }

// Inst is a single instruction. Which fields are meaningful depends on Op;
// see the Opcode documentation.
type Inst struct {
	Op       Opcode
	Name     string
	Typ      Type
	Operands []Value

	// ElemType is the allocated type of an alloca and the source element
	// type of a GEP.
	ElemType Type

	// Align is the alignment of an alloca, load or store, 0 if unspecified.
	Align uint64

	Pred   IntPred
	Callee *Func

	// Semantics is the memory-semantics mask of a fence.
	Semantics uint32

	Succs []*Block
	Loc   *DebugLoc
	Block *Block
}

// Type implements Value.
func (i *Inst) Type() Type { return i.Typ }
func (*Inst) isValue()     {}

// HasResult reports whether the instruction produces a value.
func (i *Inst) HasResult() bool {
	return i.Typ != nil && !IsVoid(i.Typ)
}

// Parent returns the enclosing function.
func (i *Inst) Parent() *Func {
	if i.Block == nil {
		return nil
	}
	return i.Block.Parent
}

// Block is a basic block: a list of instructions ending with a terminator.
type Block struct {
	Name   string
	Insts  []*Inst
	Parent *Func
}

// Terminator returns the final instruction if it is a terminator.
func (b *Block) Terminator() *Inst {
	if len(b.Insts) == 0 {
		return nil
	}
	last := b.Insts[len(b.Insts)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Append adds inst at the end of the block.
func (b *Block) Append(inst *Inst) {
	inst.Block = b
	b.Insts = append(b.Insts, inst)
}

// Index returns the position of inst in the block, or -1.
func (b *Block) Index(inst *Inst) int {
	return slices.Index(b.Insts, inst)
}

// Replace swaps old for repl at the same position.
func (b *Block) Replace(old, repl *Inst) {
	idx := b.Index(old)
	if idx < 0 {
		panic(fmt.Sprintf("ir: instruction %s not in block %s", old.Op, b.Name))
	}
	repl.Block = b
	b.Insts[idx] = repl
	old.Block = nil
}

// Calls returns all call instructions of the block.
func (b *Block) Calls() []*Inst {
	var calls []*Inst
	for _, inst := range b.Insts {
		if inst.Op == OpCall {
			calls = append(calls, inst)
		}
	}
	return calls
}
