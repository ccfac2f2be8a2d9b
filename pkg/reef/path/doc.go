// Package path defines the stable identifiers of the pipeline tree and
// their order-preserving binary codec.
//
// Three identifier families live here:
//
//   - StableKey / StablePath: total-ordered semantic addresses for pipeline
//     nodes, stable across process runs and refactors. Their binary
//     encodings compare byte-wise in the same order as the values, which is
//     what makes prefix scans over the store's key space meaningful.
//   - EffectPath: content-addressed identity of a declared effect, a
//     sequence of fingerprints.
//   - ComponentPath: a plain display path for tooling.
package path
