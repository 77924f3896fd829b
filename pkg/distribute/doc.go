// Package distribute assigns an item stream to masonry columns.
//
// Every strategy is a pure function of the item count, the column count and
// (for random) a seed: the same inputs always produce the same
// [Assignment]. Each item is placed in exactly one column and, within a
// column, items keep their input order.
//
// # Strategies
//
// Four strategies are cyclic. They build a column visiting order once and
// then send item i to order[i mod C]:
//
//   - [LeftToRight]: [0, 1, ..., C-1]
//   - [RightToLeft]: [C-1, ..., 1, 0]
//   - [CenterOut]: the center column first, then alternating right and left
//     neighbours at increasing distance. For C=5 this is [2, 3, 1, 4, 0];
//     with an even count the left middle column is the center, so C=2
//     yields [0, 1].
//   - [Random]: one permutation of the columns per layout pass, drawn from a
//     PCG source seeded with [Options.Seed]. A new seed reshuffles column
//     identity for the whole pass.
//
// [Balanced] is greedy instead: each item goes to the column that currently
// holds the fewest items, with ties broken by the lowest column index, so
// column sizes never differ by more than one. When [Options.Weights] is set
// the greedy key is the accumulated weight (for example item heights) rather
// than the item count.
//
// # Clamping
//
// A column count below 1 is treated as 1. Distribution never fails.
package distribute
