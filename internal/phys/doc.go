// Package phys holds the mass–spring graph and the integrator behind it.
//
// A Simulation owns three arenas: masses, springs, and containers.
// Containers are logical views used to run replica populations against
// the same integrator. Host code mutates the arenas between GetAll and
// the next SetAll; the Backend interface hides whether integration runs
// on the CPU reference loop or a device kernel.
package phys
