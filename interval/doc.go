/*Package interval implements the genomic interval operations used by the
  segmentation and mapping-bias code: chromosome ordering that tolerates the
  "chr1" and "1" naming styles, overlap and equality joins between sorted
  interval collections, merging of adjacent intervals that share a key, and
  BED region files for restricting work to part of the genome.

  All intervals use 1-based, closed coordinates.  Every join requires both
  inputs to be sorted by (chromosome rank, start); unsorted input is reported
  as an errors.Precondition error.
*/
package interval
