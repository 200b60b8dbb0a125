package main

import (
	"context"
	"log"
)

// broadcastWorker receives step results and fans out to multiple downstream workers.
// A full recorder channel would lose trajectory rows, so recorders get a blocking send;
// the remaining (display/publish) channels are dropped when full.
func broadcastWorker(
	ctx context.Context,
	inputChan <-chan StepResult,
	recorderChans []chan<- StepResult,
	outputChans []chan<- StepResult,
) {
	for {
		select {
		case result := <-inputChan:
			for _, ch := range recorderChans {
				select {
				case ch <- result:
				case <-ctx.Done():
					return
				}
			}

			for i, ch := range outputChans {
				select {
				case ch <- result:
					// Successfully sent
				case <-ctx.Done():
					return
				default:
					log.Printf("Warning: downstream worker %d channel full, dropping step %d\n", i, result.Step)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}
