// Package events defines the typed pipeline event contract.
//
// Event kinds are grouped by namespace:
//
//   - utterance.*
//   - transcript.*
//   - directive.*
//   - session.*
//   - pipeline.*
//
// utterance events
//
//   - UtteranceOpened (utterance.opened): speech started; stamped with the
//     capture time of the first speech frame.
//   - UtteranceClosed (utterance.closed): speech ended and the utterance is
//     queued for transcription.
//   - UtteranceDiscarded (utterance.discarded): the utterance was too short
//     or listening was switched off while it was open.
//
// transcript events
//
//   - TranscriptUpdated (transcript.updated): an accepted partial, final or
//     error update. At most one final or error per utterance.
//
// directive events
//
//   - DirectiveProduced (directive.produced): the interpreter produced a
//     directive, including unrecognized ones.
//   - DirectiveDelivered (directive.delivered): the session terminal accepted
//     the directive.
//   - DirectiveDropped (directive.dropped): the directive will never be
//     delivered; the reason says why.
//
// session events
//
//   - SessionFault (session.fault): delivery failed because the agent exited
//     or stopped accepting input.
//   - Restarted (session.restarted): a fresh agent process is running.
//   - SessionStateChanged (session.state_changed): the dispatcher moved the
//     session to a new state.
//
// pipeline events
//
//   - Overrun (pipeline.overrun): a bounded queue was full and the oldest
//     work was dropped.
//   - CaptureFault (pipeline.capture_fault): audio capture failed; the
//     pipeline stops.
//   - ListeningChanged (pipeline.listening_changed): the listening gate was
//     switched.
package events
