package runtime

import "github.com/dop251/goja"

// preludeProgram carries the pure-JS endowments: the small math/vector
// library scripts expect plus the numeric helpers. It runs once per
// compartment, before any user module.
var preludeProgram = goja.MustCompile("prelude.js", preludeJS, true)

const preludeJS = `
"use strict";

const DEG2RAD = Math.PI / 180;
const RAD2DEG = 180 / Math.PI;

function clamp(v, min, max) {
  return v < min ? min : v > max ? max : v;
}

function lerp(a, b, t) {
  return a + (b - a) * t;
}

function num(min, max, dp) {
  if (max === undefined) { max = min; min = 0; }
  const v = min + Math.random() * (max - min);
  if (dp === undefined || dp <= 0) return Math.round(v);
  const f = Math.pow(10, dp);
  return Math.round(v * f) / f;
}

// mulberry32: deterministic PRNG for scripts that need repeatable noise
function prng(seed) {
  let a = seed >>> 0;
  return function () {
    a |= 0; a = (a + 0x6d2b79f5) | 0;
    let t = Math.imul(a ^ (a >>> 15), 1 | a);
    t = (t + Math.imul(t ^ (t >>> 7), 61 | t)) ^ t;
    return ((t ^ (t >>> 14)) >>> 0) / 4294967296;
  };
}

class Curve {
  constructor() { this.keys = []; }
  add(t, v) {
    this.keys.push({ t, v });
    this.keys.sort((a, b) => a.t - b.t);
    return this;
  }
  evaluate(t) {
    const ks = this.keys;
    if (ks.length === 0) return 0;
    if (t <= ks[0].t) return ks[0].v;
    for (let i = 1; i < ks.length; i++) {
      if (t <= ks[i].t) {
        const a = ks[i - 1], b = ks[i];
        const span = b.t - a.t;
        return span === 0 ? b.v : lerp(a.v, b.v, (t - a.t) / span);
      }
    }
    return ks[ks.length - 1].v;
  }
}

class Vector3 {
  constructor(x, y, z) { this.x = x || 0; this.y = y || 0; this.z = z || 0; }
  set(x, y, z) { this.x = x; this.y = y; this.z = z; return this; }
  clone() { return new Vector3(this.x, this.y, this.z); }
  copy(v) { this.x = v.x; this.y = v.y; this.z = v.z; return this; }
  add(v) { this.x += v.x; this.y += v.y; this.z += v.z; return this; }
  sub(v) { this.x -= v.x; this.y -= v.y; this.z -= v.z; return this; }
  multiplyScalar(s) { this.x *= s; this.y *= s; this.z *= s; return this; }
  dot(v) { return this.x * v.x + this.y * v.y + this.z * v.z; }
  cross(v) {
    const x = this.y * v.z - this.z * v.y;
    const y = this.z * v.x - this.x * v.z;
    const z = this.x * v.y - this.y * v.x;
    return this.set(x, y, z);
  }
  lengthSq() { return this.dot(this); }
  length() { return Math.sqrt(this.lengthSq()); }
  normalize() {
    const len = this.length();
    return len === 0 ? this : this.multiplyScalar(1 / len);
  }
  distanceTo(v) {
    const dx = this.x - v.x, dy = this.y - v.y, dz = this.z - v.z;
    return Math.sqrt(dx * dx + dy * dy + dz * dz);
  }
  lerp(v, t) {
    this.x = lerp(this.x, v.x, t);
    this.y = lerp(this.y, v.y, t);
    this.z = lerp(this.z, v.z, t);
    return this;
  }
  toArray() { return [this.x, this.y, this.z]; }
  fromArray(a) { return this.set(a[0] || 0, a[1] || 0, a[2] || 0); }
}

class Euler {
  constructor(x, y, z, order) {
    this.x = x || 0; this.y = y || 0; this.z = z || 0;
    this.order = order || "XYZ";
  }
  set(x, y, z, order) {
    this.x = x; this.y = y; this.z = z;
    if (order !== undefined) this.order = order;
    return this;
  }
  clone() { return new Euler(this.x, this.y, this.z, this.order); }
  copy(e) { return this.set(e.x, e.y, e.z, e.order); }
}

class Quaternion {
  constructor(x, y, z, w) {
    this.x = x || 0; this.y = y || 0; this.z = z || 0;
    this.w = w === undefined ? 1 : w;
  }
  set(x, y, z, w) { this.x = x; this.y = y; this.z = z; this.w = w; return this; }
  identity() { return this.set(0, 0, 0, 1); }
  clone() { return new Quaternion(this.x, this.y, this.z, this.w); }
  copy(q) { return this.set(q.x, q.y, q.z, q.w); }
  setFromAxisAngle(axis, angle) {
    const half = angle / 2, s = Math.sin(half);
    return this.set(axis.x * s, axis.y * s, axis.z * s, Math.cos(half));
  }
  setFromEuler(e) {
    const c1 = Math.cos(e.x / 2), c2 = Math.cos(e.y / 2), c3 = Math.cos(e.z / 2);
    const s1 = Math.sin(e.x / 2), s2 = Math.sin(e.y / 2), s3 = Math.sin(e.z / 2);
    // XYZ order only; other orders are not used by world scripts
    return this.set(
      s1 * c2 * c3 + c1 * s2 * s3,
      c1 * s2 * c3 - s1 * c2 * s3,
      c1 * c2 * s3 + s1 * s2 * c3,
      c1 * c2 * c3 - s1 * s2 * s3
    );
  }
  multiply(q) {
    const ax = this.x, ay = this.y, az = this.z, aw = this.w;
    const bx = q.x, by = q.y, bz = q.z, bw = q.w;
    return this.set(
      ax * bw + aw * bx + ay * bz - az * by,
      ay * bw + aw * by + az * bx - ax * bz,
      az * bw + aw * bz + ax * by - ay * bx,
      aw * bw - ax * bx - ay * by - az * bz
    );
  }
  length() {
    return Math.sqrt(this.x * this.x + this.y * this.y + this.z * this.z + this.w * this.w);
  }
  normalize() {
    const len = this.length();
    if (len === 0) return this.identity();
    this.x /= len; this.y /= len; this.z /= len; this.w /= len;
    return this;
  }
  slerp(q, t) {
    if (t === 0) return this;
    if (t === 1) return this.copy(q);
    let cos = this.x * q.x + this.y * q.y + this.z * q.z + this.w * q.w;
    let sign = 1;
    if (cos < 0) { cos = -cos; sign = -1; }
    if (cos >= 1) return this;
    const theta = Math.acos(cos), sin = Math.sin(theta);
    if (sin < 1e-6) return this;
    const a = Math.sin((1 - t) * theta) / sin;
    const b = sign * (Math.sin(t * theta) / sin);
    return this.set(
      this.x * a + q.x * b,
      this.y * a + q.y * b,
      this.z * a + q.z * b,
      this.w * a + q.w * b
    );
  }
}

// column-major, matching the usual GL layout
class Matrix4 {
  constructor() {
    this.elements = [1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1];
  }
  identity() {
    const e = this.elements;
    e[0] = 1; e[1] = 0; e[2] = 0; e[3] = 0;
    e[4] = 0; e[5] = 1; e[6] = 0; e[7] = 0;
    e[8] = 0; e[9] = 0; e[10] = 1; e[11] = 0;
    e[12] = 0; e[13] = 0; e[14] = 0; e[15] = 1;
    return this;
  }
  clone() {
    const m = new Matrix4();
    m.elements = this.elements.slice();
    return m;
  }
  copy(m) { this.elements = m.elements.slice(); return this; }
  compose(position, quaternion, scale) {
    const e = this.elements;
    const { x, y, z, w } = quaternion;
    const x2 = x + x, y2 = y + y, z2 = z + z;
    const xx = x * x2, xy = x * y2, xz = x * z2;
    const yy = y * y2, yz = y * z2, zz = z * z2;
    const wx = w * x2, wy = w * y2, wz = w * z2;
    const sx = scale.x, sy = scale.y, sz = scale.z;
    e[0] = (1 - (yy + zz)) * sx; e[1] = (xy + wz) * sx; e[2] = (xz - wy) * sx; e[3] = 0;
    e[4] = (xy - wz) * sy; e[5] = (1 - (xx + zz)) * sy; e[6] = (yz + wx) * sy; e[7] = 0;
    e[8] = (xz + wy) * sz; e[9] = (yz - wx) * sz; e[10] = (1 - (xx + yy)) * sz; e[11] = 0;
    e[12] = position.x; e[13] = position.y; e[14] = position.z; e[15] = 1;
    return this;
  }
  multiply(m) {
    const a = this.elements, b = m.elements, out = new Array(16);
    for (let col = 0; col < 4; col++) {
      for (let row = 0; row < 4; row++) {
        out[col * 4 + row] =
          a[row] * b[col * 4] +
          a[4 + row] * b[col * 4 + 1] +
          a[8 + row] * b[col * 4 + 2] +
          a[12 + row] * b[col * 4 + 3];
      }
    }
    this.elements = out;
    return this;
  }
  setPosition(v) {
    const e = this.elements;
    e[12] = v.x; e[13] = v.y; e[14] = v.z;
    return this;
  }
}

globalThis.DEG2RAD = DEG2RAD;
globalThis.RAD2DEG = RAD2DEG;
globalThis.clamp = clamp;
globalThis.lerp = lerp;
globalThis.num = num;
globalThis.prng = prng;
globalThis.Curve = Curve;
globalThis.Vector3 = Vector3;
globalThis.Euler = Euler;
globalThis.Quaternion = Quaternion;
globalThis.Matrix4 = Matrix4;
`
