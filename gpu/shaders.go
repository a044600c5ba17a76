package gpu

import (
	"bytes"
	"strings"
)

// driverLog turns a NUL-terminated GL info log into a single line.
func driverLog(raw []byte) string {
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return strings.Join(strings.Fields(string(raw)), " ")
}

// sweShader is the single layer shallow water update: Rusanov fluxes in x
// and y over the owned columns, one invocation per cell. State is three
// floats per cell in the ghost-inclusive layout of core.Shape.
const sweShader = `
#version 430
layout(local_size_x = 8, local_size_y = 8, local_size_z = 1) in;

layout(std430, binding = 0) readonly buffer StateIn { float uin[]; };
layout(std430, binding = 1) writeonly buffer StateOut { float uout[]; };

uniform int nx;
uniform int ny;
uniform int ng;
uniform int colLo;
uniform int colHi;
uniform float dt;
uniform float dx;
uniform float dy;
uniform float alpha;
uniform vec3 beta;
uniform mat3 gammaUp;

int cellIndex(int i, int j, int k) {
    return ((k * (ny + 2 * ng) + j) * (nx + 2 * ng) + i) * 3;
}

vec3 load(int i, int j, int k) {
    int n = cellIndex(i, j, k);
    return vec3(uin[n], uin[n + 1], uin[n + 2]);
}

void recover(vec3 u, out float phi, out vec3 v) {
    if (u.x <= 0.0) {
        phi = 0.0;
        v = vec3(0.0);
        return;
    }
    vec3 sDown = vec3(u.y, u.z, 0.0);
    vec3 sUp = gammaUp * sDown;
    float w = sqrt(1.0 + dot(sUp, sDown) / (u.x * u.x));
    phi = u.x / w;
    v = sUp / (u.x * w);
}

vec3 flux(vec3 u, int axis) {
    float phi;
    vec3 v;
    recover(u, phi, v);
    vec3 f = u * (alpha * v[axis] - beta[axis]);
    f[1 + axis] += 0.5 * alpha * phi * phi;
    return f;
}

float speed(vec3 u, int axis) {
    float phi;
    vec3 v;
    recover(u, phi, v);
    return alpha * (abs(v[axis]) + sqrt(max(phi, 0.0) * gammaUp[axis][axis])) + abs(beta[axis]);
}

vec3 rusanov(vec3 a, vec3 b, int axis) {
    float lambda = max(speed(a, axis), speed(b, axis));
    return 0.5 * (flux(a, axis) + flux(b, axis)) - 0.5 * lambda * (b - a);
}

void main() {
    int i = colLo + int(gl_GlobalInvocationID.x);
    int j = ng + int(gl_GlobalInvocationID.y);
    int k = int(gl_GlobalInvocationID.z);
    if (i >= colHi || j >= ny + ng) {
        return;
    }

    vec3 u = load(i, j, k);
    vec3 r = u
        - dt / dx * (rusanov(u, load(i + 1, j, k), 0) - rusanov(load(i - 1, j, k), u, 0))
        - dt / dy * (rusanov(u, load(i, j + 1, k), 1) - rusanov(load(i, j - 1, k), u, 1));

    int n = cellIndex(i, j, k);
    uout[n] = r.x;
    uout[n + 1] = r.y;
    uout[n + 2] = r.z;
}
`
