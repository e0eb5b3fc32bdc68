// Package rules runs the automation rule engine on top of the alarm panel.
//
// A pass first resolves rules whose sustained condition came due, then evaluates
// every enabled rule in priority order. Scheduling memory lives in runtime rows
// so a late pass fires late instead of dropping the firing.
package rules
