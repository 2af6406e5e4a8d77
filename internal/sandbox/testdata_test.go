// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sandbox

// minimalInspectModule is a hand-assembled WASM binary exporting
// "inspect_packet(i32, i32) -> i32" that always returns 0 (never
// blocks). It carries no memory section, so it is only suitable for
// exercising load/lifecycle behavior, not Inspect itself.
var minimalInspectModule = []byte{
	0x00, 0x61, 0x73, 0x6D, // magic "\0asm"
	0x01, 0x00, 0x00, 0x00, // version 1

	// type section: func (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,

	// function section: one function using type 0
	0x03, 0x02, 0x01, 0x00,

	// export section: export func 0 as "inspect_packet"
	0x07, 0x12, 0x01, 0x0E,
	0x69, 0x6E, 0x73, 0x70, 0x65, 0x63, 0x74, 0x5F, 0x70, 0x61, 0x63, 0x6B, 0x65, 0x74,
	0x00, 0x00,

	// code section: local decl count 0, i32.const 0, end
	0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x00, 0x0B,
}

// moduleWithoutInspectExport is the same shape but exports "other"
// instead of "inspect_packet", for the missing-export error path.
var moduleWithoutInspectExport = []byte{
	0x00, 0x61, 0x73, 0x6D,
	0x01, 0x00, 0x00, 0x00,

	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,

	0x03, 0x02, 0x01, 0x00,

	// export section: export func 0 as "other"
	0x07, 0x09, 0x01, 0x05,
	0x6F, 0x74, 0x68, 0x65, 0x72,
	0x00, 0x00,

	0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, 0x00, 0x0B,
}

// memoryInspectModule builds a hand-assembled WASM binary with a
// one-page memory export alongside "inspect_packet", so Inspect's
// packet-write path (Module.allocGuestBuffer + Memory().Write) has
// somewhere to write to. verdict is the i32 constant inspect_packet
// returns: 0 permits, 1 blocks.
func memoryInspectModule(verdict byte) []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6D, // magic "\0asm"
		0x01, 0x00, 0x00, 0x00, // version 1

		// type section: func (i32, i32) -> i32
		0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,

		// function section: one function using type 0
		0x03, 0x02, 0x01, 0x00,

		// memory section: one memory, min 1 page, no max
		0x05, 0x03, 0x01, 0x00, 0x01,

		// export section: export func 0 as "inspect_packet", memory 0 as "memory"
		0x07, 0x1B, 0x02,
		0x0E, 0x69, 0x6E, 0x73, 0x70, 0x65, 0x63, 0x74, 0x5F, 0x70, 0x61, 0x63, 0x6B, 0x65, 0x74, 0x00, 0x00,
		0x06, 0x6D, 0x65, 0x6D, 0x6F, 0x72, 0x79, 0x02, 0x00,

		// code section: local decl count 0, i32.const verdict, end
		0x0A, 0x06, 0x01, 0x04, 0x00, 0x41, verdict, 0x0B,
	}
}

// memoryPermitModule always permits; memoryBlockModule always blocks.
// Both carry a real memory export, unlike minimalInspectModule.
var memoryPermitModule = memoryInspectModule(0x00)
var memoryBlockModule = memoryInspectModule(0x01)
