package gpu

import "fmt"

// GatherShader returns the WGSL kernel copying rows of a [rows, dim] f32
// table into the output. Each invocation writes one output element; the
// number of ids is taken from the token buffer length. Ids are validated on
// the host, the bounds check only guards stray invocations.
func GatherShader(rows, dim int, workgroup uint32) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> tokens : array<u32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read_write> output : array<f32>;

		const EMB_DIM: u32 = %du;
		const VOCAB_SIZE: u32 = %du;

		@compute @workgroup_size(%d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let total = arrayLength(&tokens) * EMB_DIM;
			if (idx >= total) { return; }

			let pos = idx / EMB_DIM;
			let dim = idx %% EMB_DIM;

			let token_id = tokens[pos];
			if (token_id < VOCAB_SIZE) {
				output[idx] = weights[token_id * EMB_DIM + dim];
			} else {
				output[idx] = 0.0;
			}
		}
	`, dim, rows, workgroup)
}
