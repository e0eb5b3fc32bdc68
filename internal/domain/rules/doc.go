// Package rules holds the automation rule model: condition trees, action
// lists, the per-rule runtime record and the action audit log.
//
// Conditions and actions are closed variant types. ParseCondition and
// ParseAction never fail: anything they cannot understand becomes an Unknown
// condition or an Unsupported action, which simply never matches or runs.
package rules
