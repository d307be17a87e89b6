// Package labels provides consistent labeling for environment resources.
//
// All labels use the branchenv.io domain prefix and follow a builder pattern
// for constructing label sets with environment identifier, component and
// manager identification. The raw branch name is not a valid label value
// (it may contain slashes), so it is carried as an annotation instead.
package labels
