// Package access resolves data-access interfaces for a conversation.
//
// A Factory is an explicit registration table keyed by interface type. Each
// entry carries a natural constructor, which wraps the conversation's unit of
// work, and a mock constructor used when the Factory runs in ModeMock. Mock
// instances are built once per Factory and shared, so state written through
// one lookup is visible to the next.
package access
