// Package wgpu provides the hardware framecore device built on
// github.com/gogpu/wgpu/hal.
//
// The HAL exposes one queue per device and fences with monotonically
// increasing signal values. Those fences back framecore timelines
// directly. Two HAL gaps are bridged here:
//
//   - The HAL has no secondary command buffers. Secondaries are
//     recorded with their own encoders and their finished command
//     buffers are appended to the primary's submission.
//   - The HAL has no queue-family ownership transfers. With a single
//     queue, a release degenerates to a layout transition.
//
// Importing this package registers the "wgpu" backend; the Vulkan HAL
// backend is linked in so adapters enumerate without further setup.
package wgpu
